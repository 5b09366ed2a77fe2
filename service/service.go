package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"adscan-pipeline/browser"
	"adscan-pipeline/classifier"
	"adscan-pipeline/detector"
	"adscan-pipeline/metrics"
	"adscan-pipeline/models"

	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

// DefaultScanTimeout bounds a whole scan when the caller sets no deadline.
const DefaultScanTimeout = 2 * time.Minute

const reportTimeout = 10 * time.Second

// Stage is a step of a scan, used in log fields.
type Stage int

const (
	StageIdle Stage = iota
	StageLaunching
	StageLoading
	StageDetecting
	StageClassifying
	StageAggregating
	StageReleasing
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageLaunching:
		return "launching"
	case StageLoading:
		return "loading"
	case StageDetecting:
		return "detecting"
	case StageClassifying:
		return "classifying"
	case StageAggregating:
		return "aggregating"
	case StageReleasing:
		return "releasing"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// ValidationError means the scan request itself is unusable.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NormalizeURL checks a user supplied page URL. A bare host gets an https
// scheme; anything other than http(s) is rejected.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ValidationError{Reason: "URL is required"}
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", &ValidationError{Reason: fmt.Sprintf("invalid URL: %v", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", &ValidationError{Reason: fmt.Sprintf("unsupported URL scheme %q", u.Scheme)}
	}
	if u.Hostname() == "" {
		return "", &ValidationError{Reason: "URL has no host"}
	}
	return u.String(), nil
}

// Session is a live browser page owned by one scan.
type Session interface {
	Load(ctx context.Context, url string) (browser.LoadOutcome, error)
	AdElements(ctx context.Context, selector string) ([]detector.Element, error)
	ViewportHeight() float64
	CaptureRegion(ctx context.Context, g models.Geometry) ([]byte, error)
	Release()
}

// Launcher starts a fresh browser session.
type Launcher interface {
	Acquire(ctx context.Context) (Session, error)
}

// BrowserLauncher adapts a *browser.Launcher to Launcher.
type BrowserLauncher struct {
	*browser.Launcher
}

func (l BrowserLauncher) Acquire(ctx context.Context) (Session, error) {
	s, err := l.Launcher.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// SlotClassifier labels one candidate.
type SlotClassifier interface {
	Classify(ctx context.Context, capturer classifier.Capturer, candidate models.AdSlotCandidate, sourceURL string) classifier.Outcome
}

// Reporter receives every completed scan. Failures never affect the scan result.
type Reporter interface {
	Name() string
	ReportScan(ctx context.Context, report *models.ScanReport) error
}

// Scanner runs the scan pipeline: launch, load, detect, classify, aggregate.
type Scanner struct {
	launcher    Launcher
	detector    *detector.Detector
	classifier  SlotClassifier
	reporters   []Reporter
	scanTimeout time.Duration
}

// NewScanner creates a scanner. A nil detector keeps the default slot cap.
func NewScanner(launcher Launcher, det *detector.Detector, cls SlotClassifier, scanTimeout time.Duration, reporters ...Reporter) *Scanner {
	if det == nil {
		det = detector.New(detector.DefaultMaxSlots)
	}
	if scanTimeout <= 0 {
		scanTimeout = DefaultScanTimeout
	}
	return &Scanner{
		launcher:    launcher,
		detector:    det,
		classifier:  cls,
		reporters:   reporters,
		scanTimeout: scanTimeout,
	}
}

// Scan loads rawURL in a fresh browser and returns the classified ad slots
// in detection order. Only validation, launch and navigation setup failures
// are returned as errors; every detected slot yields exactly one record.
func (s *Scanner) Scan(ctx context.Context, rawURL string) (models.ScanResult, error) {
	start := time.Now()

	target, err := NormalizeURL(rawURL)
	if err != nil {
		s.observe("invalid", start)
		return nil, err
	}
	logger := log.WithField("url", target)

	if err := ctx.Err(); err != nil {
		s.observe("canceled", start)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.scanTimeout)
	defer cancel()

	logger.WithField("stage", StageLaunching.String()).Info("Launching browser")
	session, err := s.launcher.Acquire(ctx)
	if err != nil {
		logger.WithField("stage", StageLaunching.String()).WithError(err).Error("Browser launch failed")
		s.observe("launch_error", start)
		return nil, err
	}
	metrics.BrowserSessionsInFlight.Inc()
	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() {
			logger.WithField("stage", StageReleasing.String()).Debug("Releasing browser")
			session.Release()
			metrics.BrowserSessionsInFlight.Dec()
		})
	}
	defer release()

	outcome, err := session.Load(ctx, target)
	if err != nil {
		logger.WithField("stage", StageLoading.String()).WithError(err).Error("Navigation setup failed")
		s.observe("setup_error", start)
		return nil, err
	}
	metrics.NavigationsTotal.WithLabelValues(outcome.String()).Inc()
	if outcome == browser.LoadTimedOutButUsable {
		logger.WithField("stage", StageLoading.String()).Warn("Page did not settle, scanning partially loaded page")
	}

	candidates, err := s.detector.Detect(ctx, session)
	if err != nil {
		logger.WithField("stage", StageDetecting.String()).WithError(err).Warn("Ad slot detection failed, reporting no slots")
		candidates = nil
	}
	metrics.SlotsDetected.Observe(float64(len(candidates)))

	results := make(models.ScanResult, len(candidates))
	var g errgroup.Group
	g.SetLimit(s.detector.MaxSlots())
	for i, candidate := range candidates {
		i, candidate := i, candidate
		g.Go(func() error {
			logger.WithFields(log.Fields{
				"stage": StageClassifying.String(),
				"slot":  i,
			}).Debug("Classifying ad slot")
			out := s.classifier.Classify(ctx, session, candidate, target)
			results[i] = out.Slot
			return nil
		})
	}
	_ = g.Wait()
	release()

	logger.WithFields(log.Fields{
		"stage": StageAggregating.String(),
		"ads":   len(results),
	}).Info("Scan complete")

	s.report(ctx, &models.ScanReport{
		SourceURL: target,
		ScannedAt: start.UTC(),
		Ads:       results,
	})
	s.observe("ok", start)
	logger.WithField("stage", StageDone.String()).Debugf("Scan finished in %s", time.Since(start))
	return results, nil
}

func (s *Scanner) report(ctx context.Context, report *models.ScanReport) {
	if len(s.reporters) == 0 {
		return
	}
	// The scan deadline may already be spent; sinks get their own.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reportTimeout)
	defer cancel()

	for _, r := range s.reporters {
		if err := r.ReportScan(ctx, report); err != nil {
			log.WithFields(log.Fields{
				"sink": r.Name(),
				"url":  report.SourceURL,
			}).WithError(err).Error("Failed to report scan")
			metrics.ReportSinkErrorsTotal.WithLabelValues(r.Name()).Inc()
		}
	}
}

func (s *Scanner) observe(result string, start time.Time) {
	metrics.ScansTotal.WithLabelValues(result).Inc()
	metrics.ScanDurationSeconds.WithLabelValues(result).Observe(time.Since(start).Seconds())
}

// IsClientError reports whether err was caused by the request rather than the service.
func IsClientError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
