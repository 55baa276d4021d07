/**
 * @description
 * Market-calendar value types shared by the trading-calendar resolver and the
 * order scheduler. All market reasoning is done in the member-facing
 * timezone, which is fixed to US Eastern.
 */

package domain

import "time"

// DelayReason explains why an order cannot execute right now.
type DelayReason string

const (
	DelayNone       DelayReason = ""
	DelayWeekend    DelayReason = "weekend"
	DelayHoliday    DelayReason = "holiday"
	DelayPreMarket  DelayReason = "pre_market"
	DelayAfterHours DelayReason = "after_hours"
)

// MarketStatusAtOpen is the creation-time label recorded on orders placed
// while the market is open; otherwise the delay reason is recorded.
const MarketStatusAtOpen = "market_open"

// CalendarDay is one trading session from the calendar feed.
type CalendarDay struct {
	Date  string `json:"date"`  // 2006-01-02
	Open  string `json:"open"`  // 15:04, exchange local (Eastern)
	Close string `json:"close"` // 15:04
}

// MarketStatus answers "is the market open right now / when is the next
// trading day" for a single instant.
type MarketStatus struct {
	IsOpen         bool        `json:"is_open"`
	IsExtended     bool        `json:"is_extended"`
	IsTradingDay   bool        `json:"is_trading_day"`
	NextTradingDay string      `json:"next_trading_day"` // 2006-01-02
	NextOpenTime   *time.Time  `json:"next_open_time,omitempty"`
	NextCloseTime  *time.Time  `json:"next_close_time,omitempty"`
	DelayReason    DelayReason `json:"delay_reason,omitempty"`
	Message        string      `json:"message"`
	MessageShort   string      `json:"message_short"`
}

// CreationLabel returns the market_status_at_creation value for an order
// created under this status.
func (m MarketStatus) CreationLabel() string {
	if m.IsOpen {
		return MarketStatusAtOpen
	}
	return string(m.DelayReason)
}
