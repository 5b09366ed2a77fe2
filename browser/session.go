package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/chromedp/chromedp"
)

// Mode selects how the browser executable is launched.
type Mode string

const (
	// ModeLocal uses the Chrome installation found on the development machine.
	ModeLocal Mode = "local"
	// ModeHosted uses a bundled executable with sandboxing and /dev/shm disabled,
	// since hosted containers usually lack those privileges.
	ModeHosted Mode = "hosted"
)

const (
	DefaultViewportWidth     = 1366
	DefaultViewportHeight    = 768
	DefaultNavigationTimeout = 45 * time.Second
)

// ParseMode converts a BROWSER_ENV value into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeLocal:
		return ModeLocal, nil
	case ModeHosted:
		return ModeHosted, nil
	}
	return "", fmt.Errorf("unknown browser environment %q", s)
}

// Options configures browser sessions.
type Options struct {
	Mode              Mode
	ExecPath          string
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
	UserAgent         string
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModeLocal
	}
	if o.ViewportWidth <= 0 {
		o.ViewportWidth = DefaultViewportWidth
	}
	if o.ViewportHeight <= 0 {
		o.ViewportHeight = DefaultViewportHeight
	}
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = DefaultNavigationTimeout
	}
	return o
}

// LaunchError means the browser process could not be started. It is not
// retried.
type LaunchError struct {
	Mode Mode
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("browser launch failed (%s): %v", e.Mode, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// launchFlags returns the command line switches for a launch mode. Both
// modes run headless.
func launchFlags(mode Mode) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":               true,
		"no-sandbox":             true,
		"disable-setuid-sandbox": true,
		"disable-dev-shm-usage":  true,
	}
	if mode == ModeHosted {
		flags["no-zygote"] = true
		flags["hide-scrollbars"] = true
		flags["disable-web-security"] = true
		flags["disable-gpu"] = true
	}
	return flags
}

func allocatorOptions(opts Options) []chromedp.ExecAllocatorOption {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range launchFlags(opts.Mode) {
		allocOpts = append(allocOpts, chromedp.Flag(name, value))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	allocOpts = append(allocOpts, chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight))
	return allocOpts
}

// Launcher starts browser sessions.
type Launcher struct {
	opts Options
}

// NewLauncher creates a launcher. Hosted mode requires an executable path.
func NewLauncher(opts Options) (*Launcher, error) {
	opts = opts.withDefaults()
	if opts.Mode == ModeHosted && opts.ExecPath == "" {
		return nil, errors.New("hosted browser mode requires an executable path")
	}
	return &Launcher{opts: opts}, nil
}

// Options returns the effective session options.
func (l *Launcher) Options() Options {
	return l.opts
}

// Acquire launches a browser with one tab. The caller must call Release on
// the returned session exactly once, on every path.
func (l *Launcher) Acquire(ctx context.Context) (*Session, error) {
	log.WithFields(log.Fields{"mode": l.opts.Mode, "exec_path": l.opts.ExecPath}).Info("Launching browser...")

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOptions(l.opts)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(log.Debugf),
		chromedp.WithErrorf(log.Debugf),
	)

	// The allocator is lazy; an empty Run forces the process to start so a
	// missing executable shows up here instead of at navigation.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, &LaunchError{Mode: l.opts.Mode, Err: err}
	}

	return &Session{
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		opts:        l.opts,
	}, nil
}

// Session is one browser process and its tab. Page operations are
// serialized: only one navigation, DOM query or screenshot runs at a time.
type Session struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	opts        Options

	mu          sync.Mutex
	releaseOnce sync.Once
}

// ViewportHeight is the emulated layout viewport height.
func (s *Session) ViewportHeight() float64 {
	return float64(s.opts.ViewportHeight)
}

// Release closes the tab and kills the browser process. Safe to call more
// than once.
func (s *Session) Release() {
	s.releaseOnce.Do(func() {
		if err := chromedp.Cancel(s.tabCtx); err != nil && s.tabCtx.Err() == nil {
			log.Warnf("Failed to close browser gracefully: %v", err)
		}
		s.cancelTab()
		s.cancelAlloc()
		log.Info("Browser released")
	})
}

// run executes actions on the tab while holding the session lock. The
// actions see ctx's cancellation and deadline.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	return chromedp.Run(opCtx, actions...)
}

// opContext derives a context from the tab that is also cancelled when ctx
// is done. chromedp needs its own context as the parent.
func (s *Session) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithCancel(s.tabCtx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		opCtx, cancelDeadline = context.WithDeadline(opCtx, deadline)
		prev := cancel
		cancel = func() {
			cancelDeadline()
			prev()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}
