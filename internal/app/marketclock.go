/**
 * @description
 * Trading-calendar resolver. Answers "is the market open right now / when is
 * the next trading day" in US Eastern time against an external calendar feed.
 * Calendar windows are cached per date-range key with a configurable TTL so a
 * burst of order creations fetches once. When the feed is unreachable the
 * resolver degrades to a synthesized Mon-Fri 09:30-16:00 calendar, accepting
 * that it will not know about holidays.
 */

package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stockloyal/sweep-service/internal/domain"
	"github.com/stockloyal/sweep-service/pkg/calendarclient"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"

	regularOpen  = "09:30"
	regularClose = "16:00"
	// Extended hours bracket the regular session and are mutually exclusive
	// with it.
	extendedOpen  = "04:00"
	extendedClose = "20:00"
)

// CalendarFeed is the slice of the calendar client the resolver needs.
type CalendarFeed interface {
	GetCalendar(ctx context.Context, start, end time.Time) ([]calendarclient.Day, error)
}

type calendarCacheEntry struct {
	days      map[string]calendarclient.Day
	fetchedAt time.Time
}

// MarketClock resolves market state for a single instant. Safe for concurrent
// use.
type MarketClock struct {
	feed   CalendarFeed
	logger *zap.SugaredLogger
	loc    *time.Location
	ttl    time.Duration
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]calendarCacheEntry
}

// NewMarketClock builds a resolver with the given calendar feed and cache TTL.
func NewMarketClock(feed CalendarFeed, logger *zap.SugaredLogger, ttl time.Duration) (*MarketClock, error) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("load eastern timezone: %w", err)
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &MarketClock{
		feed:   feed,
		logger: logger,
		loc:    loc,
		ttl:    ttl,
		now:    time.Now,
		cache:  make(map[string]calendarCacheEntry),
	}, nil
}

// calendarWindow returns the trading days between start and end inclusive,
// keyed by date string. The fallback never returns an error.
func (c *MarketClock) calendarWindow(ctx context.Context, start, end time.Time) map[string]calendarclient.Day {
	key := start.Format(dateLayout) + "|" + end.Format(dateLayout)

	c.mu.Lock()
	entry, ok := c.cache[key]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.days
	}

	days, err := c.feed.GetCalendar(ctx, start, end)
	if err != nil {
		c.logger.Warnw("calendar feed unavailable, using weekday fallback", "err", err)
		return synthesizeCalendar(start, end)
	}

	byDate := make(map[string]calendarclient.Day, len(days))
	for _, d := range days {
		byDate[d.Date] = d
	}

	c.mu.Lock()
	c.cache[key] = calendarCacheEntry{days: byDate, fetchedAt: c.now()}
	c.mu.Unlock()
	return byDate
}

// synthesizeCalendar builds a Mon-Fri 09:30-16:00 window when the feed is
// down.
func synthesizeCalendar(start, end time.Time) map[string]calendarclient.Day {
	out := make(map[string]calendarclient.Day)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		key := d.Format(dateLayout)
		out[key] = calendarclient.Day{Date: key, Open: regularOpen, Close: regularClose}
	}
	return out
}

// at combines a calendar date with an HH:MM clock string in Eastern time.
func (c *MarketClock) at(day time.Time, clock string) (time.Time, error) {
	t, err := time.ParseInLocation(clockLayout, clock, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse calendar clock %q: %w", clock, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, c.loc), nil
}

// Status resolves the market state for the current instant. The window
// fetched is yesterday through seven days out, wide enough to resolve the
// next trading day across any weekend or holiday cluster.
func (c *MarketClock) Status(ctx context.Context) *domain.MarketStatus {
	now := c.now().In(c.loc)
	days := c.calendarWindow(ctx, now.AddDate(0, 0, -1), now.AddDate(0, 0, 7))

	st := &domain.MarketStatus{}
	today := now.Format(dateLayout)
	day, isTradingDay := days[today]
	st.IsTradingDay = isTradingDay

	// Delay reason priority: weekend first, then holiday, then clock time.
	switch {
	case now.Weekday() == time.Saturday || now.Weekday() == time.Sunday:
		st.DelayReason = domain.DelayWeekend
	case !isTradingDay:
		st.DelayReason = domain.DelayHoliday
	default:
		openAt, err := c.at(now, day.Open)
		if err == nil {
			closeAt, cerr := c.at(now, day.Close)
			if cerr == nil {
				switch {
				case now.Before(openAt):
					st.DelayReason = domain.DelayPreMarket
				case now.Before(closeAt):
					st.IsOpen = true
				default:
					st.DelayReason = domain.DelayAfterHours
				}
			}
		}
		if err != nil {
			// Unparseable feed row; treat the day as closed.
			st.DelayReason = domain.DelayAfterHours
		}
	}

	if !st.IsOpen && isTradingDay {
		extOpen, _ := c.at(now, extendedOpen)
		extClose, _ := c.at(now, extendedClose)
		st.IsExtended = !now.Before(extOpen) && now.Before(extClose)
	}

	nextDate, nextDay := c.nextTradingDay(now, days, st.IsOpen || st.DelayReason == domain.DelayPreMarket)
	st.NextTradingDay = nextDate
	if nextDay != nil {
		d, _ := time.ParseInLocation(dateLayout, nextDate, c.loc)
		if openAt, err := c.at(d, nextDay.Open); err == nil {
			st.NextOpenTime = &openAt
		}
		if closeAt, err := c.at(d, nextDay.Close); err == nil {
			st.NextCloseTime = &closeAt
		}
	}

	st.Message, st.MessageShort = delayCopy(st.IsOpen, st.DelayReason, st.NextTradingDay)
	return st
}

// nextTradingDay walks forward from now. includeToday keeps today as a
// candidate when the session has not closed yet.
func (c *MarketClock) nextTradingDay(now time.Time, days map[string]calendarclient.Day, includeToday bool) (string, *calendarclient.Day) {
	start := now
	if !includeToday {
		start = now.AddDate(0, 0, 1)
	}
	for d := start; ; d = d.AddDate(0, 0, 1) {
		key := d.Format(dateLayout)
		if day, ok := days[key]; ok {
			return key, &day
		}
		if d.Sub(now) > 14*24*time.Hour {
			// Calendar window exhausted; fall back to the next weekday.
			break
		}
	}
	for d := start; ; d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			key := d.Format(dateLayout)
			day := calendarclient.Day{Date: key, Open: regularOpen, Close: regularClose}
			return key, &day
		}
	}
}

// ScheduledExecutionDate returns the date an order created now should
// execute: today while the session can still trade today, otherwise the next
// trading day.
func (c *MarketClock) ScheduledExecutionDate(ctx context.Context) (time.Time, *domain.MarketStatus) {
	st := c.Status(ctx)
	now := c.now().In(c.loc)
	if st.IsOpen {
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc), st
	}
	d, err := time.ParseInLocation(dateLayout, st.NextTradingDay, c.loc)
	if err != nil {
		d = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.loc)
	}
	return d, st
}

// NextTradingDayAfter resolves the first trading day strictly after the given
// date.
func (c *MarketClock) NextTradingDayAfter(ctx context.Context, date time.Time) string {
	date = date.In(c.loc)
	days := c.calendarWindow(ctx, date, date.AddDate(0, 0, 10))
	for d := date.AddDate(0, 0, 1); ; d = d.AddDate(0, 0, 1) {
		key := d.Format(dateLayout)
		if _, ok := days[key]; ok {
			return key
		}
		if d.Sub(date) > 14*24*time.Hour {
			break
		}
	}
	for d := date.AddDate(0, 0, 1); ; d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			return d.Format(dateLayout)
		}
	}
}

// delayCopy builds the member-facing confirmation copy for a market state.
func delayCopy(isOpen bool, reason domain.DelayReason, nextTradingDay string) (string, string) {
	switch {
	case isOpen:
		return "The market is open. Your order will be placed shortly.", "Placing now"
	case reason == domain.DelayWeekend:
		return fmt.Sprintf("Markets are closed for the weekend. Your order is scheduled for %s.", nextTradingDay),
			fmt.Sprintf("Queued for %s", nextTradingDay)
	case reason == domain.DelayHoliday:
		return fmt.Sprintf("Markets are closed for a holiday. Your order is scheduled for %s.", nextTradingDay),
			fmt.Sprintf("Queued for %s", nextTradingDay)
	case reason == domain.DelayPreMarket:
		return "Markets have not opened yet. Your order is scheduled for today's 9:30 AM ET open.",
			"Queued for today"
	case reason == domain.DelayAfterHours:
		return fmt.Sprintf("Markets are closed for the day. Your order is scheduled for %s.", nextTradingDay),
			fmt.Sprintf("Queued for %s", nextTradingDay)
	default:
		return fmt.Sprintf("Your order is scheduled for %s.", nextTradingDay),
			fmt.Sprintf("Queued for %s", nextTradingDay)
	}
}
