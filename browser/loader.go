package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// LoadOutcome says how far a page got before scanning started.
type LoadOutcome int

const (
	// LoadReady means the page loaded and the network went quiet.
	LoadReady LoadOutcome = iota
	// LoadTimedOutButUsable means the wait was cut short. The DOM that did
	// load is still scanned.
	LoadTimedOutButUsable
)

func (o LoadOutcome) String() string {
	switch o {
	case LoadReady:
		return "ready"
	case LoadTimedOutButUsable:
		return "timed_out_but_usable"
	}
	return "unknown"
}

// NavigationSetupError means the tab could not be prepared for navigation.
type NavigationSetupError struct {
	URL string
	Err error
}

func (e *NavigationSetupError) Error() string {
	return fmt.Sprintf("failed to prepare navigation to %s: %v", e.URL, e.Err)
}

func (e *NavigationSetupError) Unwrap() error { return e.Err }

const (
	// Network is considered quiet with this many requests or fewer in flight.
	idleMaxInflight = 2
	idleQuietPeriod = 500 * time.Millisecond
	idlePollEvery   = 100 * time.Millisecond
)

// Load sets the viewport, navigates to url and waits for the network to go
// quiet, bounded by the navigation timeout. Ad networks often keep
// long-poll connections open, so a timeout or navigation error is not fatal.
func (s *Session) Load(ctx context.Context, url string) (LoadOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()

	err := chromedp.Run(opCtx,
		chromedp.EmulateViewport(int64(s.opts.ViewportWidth), int64(s.opts.ViewportHeight)),
		network.Enable(),
	)
	if err != nil {
		return LoadTimedOutButUsable, &NavigationSetupError{URL: url, Err: err}
	}

	tracker := newIdleTracker(time.Now)
	listenCtx, stopListening := context.WithCancel(opCtx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, tracker.handle)

	navCtx, cancelNav := context.WithTimeout(opCtx, s.opts.NavigationTimeout)
	defer cancelNav()

	log.WithField("url", url).Info("Navigating to page...")
	start := time.Now()
	err = chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.ActionFunc(tracker.wait),
	)
	if err != nil {
		log.WithFields(log.Fields{
			"url":      url,
			"elapsed":  time.Since(start).String(),
			"inflight": tracker.inflightCount(),
		}).Warnf("Page load timed out or network idle not reached, continuing anyway: %v", err)
		return LoadTimedOutButUsable, nil
	}

	log.WithFields(log.Fields{"url": url, "elapsed": time.Since(start).String()}).Info("Page loaded")
	return LoadReady, nil
}

// idleTracker counts in-flight requests from CDP network events.
type idleTracker struct {
	mu          sync.Mutex
	inflight    map[network.RequestID]struct{}
	quietSince  time.Time
	now         func() time.Time
	maxInflight int
	quietPeriod time.Duration
}

func newIdleTracker(now func() time.Time) *idleTracker {
	return &idleTracker{
		inflight:    make(map[network.RequestID]struct{}),
		quietSince:  now(),
		now:         now,
		maxInflight: idleMaxInflight,
		quietPeriod: idleQuietPeriod,
	}
}

func (t *idleTracker) handle(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.update(e.RequestID, true)
	case *network.EventLoadingFinished:
		t.update(e.RequestID, false)
	case *network.EventLoadingFailed:
		t.update(e.RequestID, false)
	}
}

func (t *idleTracker) update(id network.RequestID, started bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	wasQuiet := len(t.inflight) <= t.maxInflight
	if started {
		t.inflight[id] = struct{}{}
	} else {
		delete(t.inflight, id)
	}
	isQuiet := len(t.inflight) <= t.maxInflight

	switch {
	case wasQuiet && !isQuiet:
		t.quietSince = time.Time{}
	case !wasQuiet && isQuiet:
		t.quietSince = t.now()
	}
}

func (t *idleTracker) idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.inflight) > t.maxInflight || t.quietSince.IsZero() {
		return false
	}
	return t.now().Sub(t.quietSince) >= t.quietPeriod
}

func (t *idleTracker) inflightCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// wait blocks until the network is idle or ctx is done.
func (t *idleTracker) wait(ctx context.Context) error {
	ticker := time.NewTicker(idlePollEvery)
	defer ticker.Stop()

	for {
		if t.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
