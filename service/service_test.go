package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"adscan-pipeline/browser"
	"adscan-pipeline/classifier"
	"adscan-pipeline/detector"
	"adscan-pipeline/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// regionPNG renders a screenshot a tenth the size of the region, so the
// image itself identifies which slot it came from.
func regionPNG(g models.Geometry) []byte {
	img := image.NewRGBA(image.Rect(0, 0, max(1, int(g.Width/10)), max(1, int(g.Height/10))))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func element(id int64, x, y, w, h float64) detector.Element {
	return detector.Element{
		NodeID:     id,
		Box:        models.Geometry{X: x, Y: y, Width: w, Height: h},
		Display:    "block",
		Visibility: "visible",
		Opacity:    "1",
	}
}

type fakeSession struct {
	elements []detector.Element
	queryErr error
	loadErr  error
	outcome  browser.LoadOutcome
	failOnY  map[float64]bool

	mu       sync.Mutex
	loads    []string
	releases int
}

func (f *fakeSession) Load(ctx context.Context, url string) (browser.LoadOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, url)
	return f.outcome, f.loadErr
}

func (f *fakeSession) AdElements(ctx context.Context, selector string) ([]detector.Element, error) {
	return f.elements, f.queryErr
}

func (f *fakeSession) ViewportHeight() float64 { return 768 }

func (f *fakeSession) CaptureRegion(ctx context.Context, g models.Geometry) ([]byte, error) {
	if f.failOnY[g.Y] {
		return nil, errors.New("capture failed")
	}
	return regionPNG(g), nil
}

func (f *fakeSession) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

func (f *fakeSession) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.releases
}

type fakeLauncher struct {
	session  *fakeSession
	err      error
	acquired int
}

func (f *fakeLauncher) Acquire(ctx context.Context) (Session, error) {
	f.acquired++
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type scriptedLLM struct {
	response  string
	err       error
	delay     time.Duration
	failWidth int
}

func (s *scriptedLLM) SourceName() string { return "Scripted" }

func (s *scriptedLLM) AnalyzeImage(ctx context.Context, prompt string, imageData []byte, mimeType string) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.failWidth > 0 {
		cfg, err := png.DecodeConfig(bytes.NewReader(imageData))
		if err != nil {
			return "", err
		}
		if cfg.Width == s.failWidth {
			return "", errors.New("inference service unavailable")
		}
	}
	return s.response, s.err
}

type recordingReporter struct {
	name    string
	err     error
	reports []*models.ScanReport
	session *fakeSession

	releasesSeen []int
}

func (r *recordingReporter) Name() string { return r.name }

func (r *recordingReporter) ReportScan(ctx context.Context, report *models.ScanReport) error {
	r.reports = append(r.reports, report)
	if r.session != nil {
		r.releasesSeen = append(r.releasesSeen, r.session.releaseCount())
	}
	return r.err
}

func newTestScanner(launcher Launcher, llmResponse string, reporters ...Reporter) *Scanner {
	cls := classifier.New(&scriptedLLM{response: llmResponse}, nil, 0)
	return NewScanner(launcher, detector.New(3), cls, time.Minute, reporters...)
}

func threeSlots() []detector.Element {
	return []detector.Element{
		element(1, 0, 0, 728, 90),
		element(2, 1000, 150, 300, 250),
		element(3, 1000, 900, 160, 600),
	}
}

func TestScan(t *testing.T) {
	session := &fakeSession{elements: threeSlots()}
	launcher := &fakeLauncher{session: session}
	reporter := &recordingReporter{name: "memory"}
	scanner := newTestScanner(launcher, `{"brand":"Nike","product":"Air Max"}`, reporter)

	ads, err := scanner.Scan(context.Background(), "news.example.com")
	require.NoError(t, err)

	require.Len(t, ads, 3)
	assert.Equal(t, models.AdTypeLeaderboard, ads[0].AdType)
	assert.Equal(t, models.LocationHeaderTop, ads[0].Location)
	assert.Equal(t, models.AdTypeMediumRectangle, ads[1].AdType)
	assert.Equal(t, models.AdTypeSkyscraper, ads[2].AdType)
	assert.Equal(t, models.LocationFooterBottom, ads[2].Location)
	for _, ad := range ads {
		assert.Equal(t, "Nike", ad.Brand)
		assert.Equal(t, "Air Max", ad.Product)
		assert.Equal(t, "https://news.example.com", ad.SourceURL)
	}

	assert.Equal(t, []string{"https://news.example.com"}, session.loads)
	assert.Equal(t, 1, session.releaseCount())

	require.Len(t, reporter.reports, 1)
	assert.Equal(t, "https://news.example.com", reporter.reports[0].SourceURL)
	assert.Equal(t, ads, reporter.reports[0].Ads)
}

func TestScanNoAds(t *testing.T) {
	session := &fakeSession{}
	scanner := newTestScanner(&fakeLauncher{session: session}, `{"brand":"x","product":"y"}`)

	ads, err := scanner.Scan(context.Background(), "https://empty.example/")
	require.NoError(t, err)
	assert.NotNil(t, ads)
	assert.Empty(t, ads)
	assert.Equal(t, 1, session.releaseCount())
}

func TestScanOneSlotFails(t *testing.T) {
	session := &fakeSession{
		elements: threeSlots(),
		failOnY:  map[float64]bool{150: true},
	}
	scanner := newTestScanner(&fakeLauncher{session: session}, `{"brand":"Coca-Cola","product":"Coke Zero"}`)

	ads, err := scanner.Scan(context.Background(), "https://a.example/")
	require.NoError(t, err)

	require.Len(t, ads, 3)
	assert.Equal(t, "Coca-Cola", ads[0].Brand)
	assert.Equal(t, models.LabelAnalysisFailed, ads[1].Brand)
	assert.Equal(t, models.LabelAnalysisFailed, ads[1].Product)
	assert.Equal(t, "Coca-Cola", ads[2].Brand)
}

func TestScanInferenceFailsForOneSlot(t *testing.T) {
	session := &fakeSession{elements: threeSlots()}
	// The second slot is 300x250, captured as a 30x25 image.
	llm := &scriptedLLM{response: `{"brand":"Coca-Cola","product":"Coke Zero"}`, failWidth: 30}
	cls := classifier.New(llm, nil, 0)
	scanner := NewScanner(&fakeLauncher{session: session}, detector.New(3), cls, time.Minute)

	ads, err := scanner.Scan(context.Background(), "https://a.example/")
	require.NoError(t, err)

	require.Len(t, ads, 3)
	assert.Equal(t, "Coca-Cola", ads[0].Brand)
	assert.Equal(t, models.LabelAnalysisFailed, ads[1].Brand)
	assert.Equal(t, models.LabelAnalysisFailed, ads[1].Product)
	assert.Equal(t, models.AdTypeMediumRectangle, ads[1].AdType)
	assert.Equal(t, "Coca-Cola", ads[2].Brand)
	assert.Equal(t, "Coke Zero", ads[2].Product)
}

func TestScanReleasesBrowserBeforeReporting(t *testing.T) {
	session := &fakeSession{elements: threeSlots()}
	reporter := &recordingReporter{name: "memory", session: session}
	scanner := newTestScanner(&fakeLauncher{session: session}, `{"brand":"Nike","product":"Shoes"}`, reporter)

	_, err := scanner.Scan(context.Background(), "https://a.example/")
	require.NoError(t, err)

	assert.Equal(t, []int{1}, reporter.releasesSeen)
	assert.Equal(t, 1, session.releaseCount())
}

func TestScanGarbageResponse(t *testing.T) {
	session := &fakeSession{elements: threeSlots()[:1]}
	scanner := newTestScanner(&fakeLauncher{session: session}, "Sorry, I cannot help with that.")

	ads, err := scanner.Scan(context.Background(), "https://a.example/")
	require.NoError(t, err)

	require.Len(t, ads, 1)
	assert.Equal(t, models.LabelUnknown, ads[0].Brand)
	assert.Equal(t, models.LabelUnknown, ads[0].Product)
}

func TestScanCapsSlots(t *testing.T) {
	elements := threeSlots()
	elements = append(elements, element(4, 0, 1200, 336, 280), element(5, 0, 1600, 970, 250))
	session := &fakeSession{elements: elements}
	scanner := newTestScanner(&fakeLauncher{session: session}, `{"brand":"BMW","product":"X5"}`)

	ads, err := scanner.Scan(context.Background(), "https://a.example/")
	require.NoError(t, err)
	assert.Len(t, ads, 3)
}

func TestScanLaunchFailure(t *testing.T) {
	launchErr := &browser.LaunchError{Mode: browser.ModeHosted, Err: errors.New("exec: not found")}
	launcher := &fakeLauncher{err: launchErr}
	reporter := &recordingReporter{name: "memory"}
	scanner := newTestScanner(launcher, "{}", reporter)

	ads, err := scanner.Scan(context.Background(), "https://a.example/")

	assert.Nil(t, ads)
	var le *browser.LaunchError
	assert.ErrorAs(t, err, &le)
	assert.Equal(t, 1, launcher.acquired)
	assert.Empty(t, reporter.reports)
}

func TestScanNavigationSetupFailure(t *testing.T) {
	session := &fakeSession{
		loadErr: &browser.NavigationSetupError{URL: "https://a.example/", Err: errors.New("target closed")},
	}
	scanner := newTestScanner(&fakeLauncher{session: session}, "{}")

	_, err := scanner.Scan(context.Background(), "https://a.example/")

	var ne *browser.NavigationSetupError
	assert.ErrorAs(t, err, &ne)
	assert.Equal(t, 1, session.releaseCount())
}

func TestScanTimedOutPageIsStillScanned(t *testing.T) {
	session := &fakeSession{elements: threeSlots(), outcome: browser.LoadTimedOutButUsable}
	scanner := newTestScanner(&fakeLauncher{session: session}, `{"brand":"Nike","product":"Shoes"}`)

	ads, err := scanner.Scan(context.Background(), "https://slow.example/")
	require.NoError(t, err)
	assert.Len(t, ads, 3)
}

func TestScanDetectionErrorDegrades(t *testing.T) {
	session := &fakeSession{queryErr: errors.New("document gone")}
	scanner := newTestScanner(&fakeLauncher{session: session}, "{}")

	ads, err := scanner.Scan(context.Background(), "https://a.example/")
	require.NoError(t, err)
	assert.NotNil(t, ads)
	assert.Empty(t, ads)
}

func TestScanValidation(t *testing.T) {
	launcher := &fakeLauncher{session: &fakeSession{}}
	scanner := newTestScanner(launcher, "{}")

	for _, raw := range []string{"", "   ", "ftp://files.example/", "https://"} {
		_, err := scanner.Scan(context.Background(), raw)
		assert.True(t, IsClientError(err), "expected validation error for %q, got %v", raw, err)
	}
	assert.Zero(t, launcher.acquired)
}

func TestScanCanceledBeforeLaunch(t *testing.T) {
	launcher := &fakeLauncher{session: &fakeSession{}}
	scanner := newTestScanner(launcher, "{}")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := scanner.Scan(ctx, "https://a.example/")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, launcher.acquired)
}

func TestScanDeadlineDuringInference(t *testing.T) {
	session := &fakeSession{elements: threeSlots()}
	cls := classifier.New(&scriptedLLM{response: `{"brand":"a","product":"b"}`, delay: time.Minute}, nil, 0)
	scanner := NewScanner(&fakeLauncher{session: session}, detector.New(3), cls, 50*time.Millisecond)

	ads, err := scanner.Scan(context.Background(), "https://a.example/")
	require.NoError(t, err)

	require.Len(t, ads, 3)
	for _, ad := range ads {
		assert.Equal(t, models.LabelAnalysisFailed, ad.Brand)
	}
	assert.Equal(t, 1, session.releaseCount())
}

func TestScanReporterFailureIgnored(t *testing.T) {
	session := &fakeSession{elements: threeSlots()[:1]}
	failing := &recordingReporter{name: "broken", err: errors.New("db down")}
	ok := &recordingReporter{name: "memory"}
	scanner := newTestScanner(&fakeLauncher{session: session}, `{"brand":"Nike","product":"Shoes"}`, failing, ok)

	ads, err := scanner.Scan(context.Background(), "https://a.example/")
	require.NoError(t, err)
	assert.Len(t, ads, 1)
	assert.Len(t, failing.reports, 1)
	assert.Len(t, ok.reports, 1)
}

func TestScanIsRepeatable(t *testing.T) {
	session := &fakeSession{elements: threeSlots()}
	scanner := newTestScanner(&fakeLauncher{session: session}, `{"brand":"Samsung","product":"Galaxy"}`)

	first, err := scanner.Scan(context.Background(), "https://a.example/")
	require.NoError(t, err)
	second, err := scanner.Scan(context.Background(), "https://a.example/")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, session.releaseCount())
}

func TestNormalizeURL(t *testing.T) {
	testCases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://example.com/news", "https://example.com/news", false},
		{"http://example.com", "http://example.com", false},
		{"example.com/path?q=1", "https://example.com/path?q=1", false},
		{"  example.com  ", "https://example.com", false},
		{"", "", true},
		{"ftp://example.com", "", true},
		{"file:///etc/passwd", "", true},
		{"https://", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := NormalizeURL(tc.in)
			if tc.wantErr {
				assert.True(t, IsClientError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestStageString(t *testing.T) {
	assert.Equal(t, "launching", StageLaunching.String())
	assert.Equal(t, "releasing", StageReleasing.String())
	assert.Equal(t, "unknown", Stage(99).String())
}
