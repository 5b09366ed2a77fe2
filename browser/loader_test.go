package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestIdleTracker(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	tracker := newIdleTracker(clock.now)

	assert.False(t, tracker.idle(), "quiet period has not elapsed yet")
	clock.advance(idleQuietPeriod)
	assert.True(t, tracker.idle())

	for _, id := range []network.RequestID{"1", "2", "3"} {
		tracker.handle(&network.EventRequestWillBeSent{RequestID: id})
	}
	assert.Equal(t, 3, tracker.inflightCount())
	clock.advance(time.Hour)
	assert.False(t, tracker.idle(), "three requests in flight")

	tracker.handle(&network.EventLoadingFinished{RequestID: "1"})
	assert.False(t, tracker.idle(), "quiet period restarts when dropping to the threshold")
	clock.advance(idleQuietPeriod - time.Millisecond)
	assert.False(t, tracker.idle())
	clock.advance(time.Millisecond)
	assert.True(t, tracker.idle(), "two long-poll requests still count as idle")

	tracker.handle(&network.EventLoadingFailed{RequestID: "2"})
	tracker.handle(&network.EventLoadingFinished{RequestID: "unknown"})
	assert.Equal(t, 1, tracker.inflightCount())
	assert.True(t, tracker.idle(), "staying under the threshold keeps the quiet period")

	// Redirects reuse the request ID.
	tracker.handle(&network.EventRequestWillBeSent{RequestID: "3"})
	assert.Equal(t, 1, tracker.inflightCount())

	tracker.handle("unrelated event")
	assert.Equal(t, 1, tracker.inflightCount())
}

func TestIdleTrackerWaitHonorsContext(t *testing.T) {
	tracker := newIdleTracker(time.Now)
	for _, id := range []network.RequestID{"a", "b", "c"} {
		tracker.handle(&network.EventRequestWillBeSent{RequestID: id})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tracker.wait(ctx), context.DeadlineExceeded)
}

func TestIdleTrackerWaitReturnsWhenQuiet(t *testing.T) {
	tracker := newIdleTracker(time.Now)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, tracker.wait(ctx))
}

func TestLoadOutcomeString(t *testing.T) {
	assert.Equal(t, "ready", LoadReady.String())
	assert.Equal(t, "timed_out_but_usable", LoadTimedOutButUsable.String())
	assert.Equal(t, "unknown", LoadOutcome(42).String())
}
