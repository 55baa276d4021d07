package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockloyal/sweep-service/internal/domain"
)

func TestStatusOpenWeekday(t *testing.T) {
	loc := eastern(t)
	// Monday noon, inside the regular session.
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)
	clock := newTestClock(t, weekdayFeed(now), now)

	st := clock.Status(context.Background())

	assert.True(t, st.IsOpen)
	assert.False(t, st.IsExtended)
	assert.True(t, st.IsTradingDay)
	assert.Equal(t, domain.DelayNone, st.DelayReason)
	assert.Equal(t, "2026-08-24", st.NextTradingDay)
	assert.Equal(t, domain.MarketStatusAtOpen, st.CreationLabel())
	require.NotNil(t, st.NextCloseTime)
	assert.Equal(t, 16, st.NextCloseTime.Hour())
}

func TestStatusWeekend(t *testing.T) {
	loc := eastern(t)
	// Saturday noon. Weekend wins over any clock-based reason.
	now := time.Date(2026, 8, 22, 12, 0, 0, 0, loc)
	clock := newTestClock(t, weekdayFeed(now), now)

	st := clock.Status(context.Background())

	assert.False(t, st.IsOpen)
	assert.False(t, st.IsTradingDay)
	assert.Equal(t, domain.DelayWeekend, st.DelayReason)
	assert.Equal(t, "2026-08-24", st.NextTradingDay)
	assert.Equal(t, "weekend", st.CreationLabel())
	assert.Contains(t, st.Message, "2026-08-24")
}

func TestStatusHoliday(t *testing.T) {
	loc := eastern(t)
	// Labor Day 2026: a Monday absent from the calendar feed.
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, loc)
	clock := newTestClock(t, weekdayFeed(now, "2026-09-07"), now)

	st := clock.Status(context.Background())

	assert.False(t, st.IsOpen)
	assert.False(t, st.IsTradingDay)
	assert.Equal(t, domain.DelayHoliday, st.DelayReason)
	assert.Equal(t, "2026-09-08", st.NextTradingDay)
}

func TestStatusPreMarket(t *testing.T) {
	loc := eastern(t)
	// Monday 08:00, before the 09:30 open but inside extended hours. Today is
	// still the next trading day because the session has not happened yet.
	now := time.Date(2026, 8, 24, 8, 0, 0, 0, loc)
	clock := newTestClock(t, weekdayFeed(now), now)

	st := clock.Status(context.Background())

	assert.False(t, st.IsOpen)
	assert.True(t, st.IsExtended)
	assert.Equal(t, domain.DelayPreMarket, st.DelayReason)
	assert.Equal(t, "2026-08-24", st.NextTradingDay)
}

func TestStatusAfterHours(t *testing.T) {
	loc := eastern(t)
	// Monday 17:00, after the close.
	now := time.Date(2026, 8, 24, 17, 0, 0, 0, loc)
	clock := newTestClock(t, weekdayFeed(now), now)

	st := clock.Status(context.Background())

	assert.False(t, st.IsOpen)
	assert.True(t, st.IsExtended)
	assert.Equal(t, domain.DelayAfterHours, st.DelayReason)
	assert.Equal(t, "2026-08-25", st.NextTradingDay)
}

func TestStatusOutsideExtendedHours(t *testing.T) {
	loc := eastern(t)
	// Monday 21:00, after the 20:00 extended close.
	now := time.Date(2026, 8, 24, 21, 0, 0, 0, loc)
	clock := newTestClock(t, weekdayFeed(now), now)

	st := clock.Status(context.Background())

	assert.False(t, st.IsOpen)
	assert.False(t, st.IsExtended)
	assert.Equal(t, domain.DelayAfterHours, st.DelayReason)
}

func TestStatusFeedDownFallsBackToWeekdays(t *testing.T) {
	loc := eastern(t)
	now := time.Date(2026, 8, 22, 12, 0, 0, 0, loc) // Saturday
	feed := &fakeFeed{err: errors.New("calendar feed down")}
	clock := newTestClock(t, feed, now)

	st := clock.Status(context.Background())

	assert.False(t, st.IsOpen)
	assert.Equal(t, domain.DelayWeekend, st.DelayReason)
	assert.Equal(t, "2026-08-24", st.NextTradingDay)
}

func TestCalendarWindowCached(t *testing.T) {
	loc := eastern(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)
	feed := weekdayFeed(now)
	clock := newTestClock(t, feed, now)

	clock.Status(context.Background())
	clock.Status(context.Background())

	assert.Equal(t, 1, feed.calls, "second call within TTL should hit the cache")
}

func TestScheduledExecutionDate(t *testing.T) {
	loc := eastern(t)
	ctx := context.Background()

	t.Run("market open schedules today", func(t *testing.T) {
		now := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)
		clock := newTestClock(t, weekdayFeed(now), now)

		date, st := clock.ScheduledExecutionDate(ctx)
		assert.True(t, st.IsOpen)
		assert.Equal(t, "2026-08-24", date.Format("2006-01-02"))
	})

	t.Run("weekend schedules next weekday", func(t *testing.T) {
		now := time.Date(2026, 8, 22, 12, 0, 0, 0, loc)
		clock := newTestClock(t, weekdayFeed(now), now)

		date, st := clock.ScheduledExecutionDate(ctx)
		assert.False(t, st.IsOpen)
		assert.Equal(t, "2026-08-24", date.Format("2006-01-02"))
		assert.Equal(t, time.Monday, date.Weekday())
	})

	t.Run("after hours schedules tomorrow", func(t *testing.T) {
		now := time.Date(2026, 8, 24, 17, 0, 0, 0, loc)
		clock := newTestClock(t, weekdayFeed(now), now)

		date, _ := clock.ScheduledExecutionDate(ctx)
		assert.Equal(t, "2026-08-25", date.Format("2006-01-02"))
	})
}

func TestNextTradingDayAfter(t *testing.T) {
	loc := eastern(t)
	now := time.Date(2026, 8, 24, 12, 0, 0, 0, loc)
	clock := newTestClock(t, weekdayFeed(now), now)
	ctx := context.Background()

	// Strictly exclusive: asking from a trading day returns the next one.
	assert.Equal(t, "2026-08-25", clock.NextTradingDayAfter(ctx, time.Date(2026, 8, 24, 0, 0, 0, 0, loc)))
	// Friday resolves across the weekend.
	assert.Equal(t, "2026-08-31", clock.NextTradingDayAfter(ctx, time.Date(2026, 8, 28, 0, 0, 0, 0, loc)))
}
