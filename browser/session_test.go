package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	testCases := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeLocal, false},
		{"local", ModeLocal, false},
		{" Hosted ", ModeHosted, false},
		{"lambda", "", true},
	}
	for _, tc := range testCases {
		got, err := ParseMode(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		assert.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestLaunchFlags(t *testing.T) {
	local := launchFlags(ModeLocal)
	hosted := launchFlags(ModeHosted)

	for _, flag := range []string{"headless", "no-sandbox", "disable-setuid-sandbox", "disable-dev-shm-usage"} {
		assert.Equal(t, true, local[flag], "local %s", flag)
		assert.Equal(t, true, hosted[flag], "hosted %s", flag)
	}
	for _, flag := range []string{"no-zygote", "hide-scrollbars", "disable-web-security", "disable-gpu"} {
		assert.Equal(t, true, hosted[flag], "hosted %s", flag)
		assert.NotContains(t, local, flag)
	}
}

func TestNewLauncher(t *testing.T) {
	_, err := NewLauncher(Options{Mode: ModeHosted})
	assert.Error(t, err, "hosted mode without an executable")

	l, err := NewLauncher(Options{})
	require.NoError(t, err)
	opts := l.Options()
	assert.Equal(t, ModeLocal, opts.Mode)
	assert.Equal(t, DefaultViewportWidth, opts.ViewportWidth)
	assert.Equal(t, DefaultViewportHeight, opts.ViewportHeight)
	assert.Equal(t, DefaultNavigationTimeout, opts.NavigationTimeout)
}

func TestAcquireMissingExecutable(t *testing.T) {
	l, err := NewLauncher(Options{Mode: ModeHosted, ExecPath: "/nonexistent/chromium"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	s, err := l.Acquire(ctx)
	assert.Nil(t, s)
	var launchErr *LaunchError
	require.True(t, errors.As(err, &launchErr), "got %v", err)
	assert.Equal(t, ModeHosted, launchErr.Mode)
	assert.Contains(t, err.Error(), "browser launch failed")
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("boom")
	assert.ErrorIs(t, &LaunchError{Mode: ModeLocal, Err: cause}, cause)
	assert.ErrorIs(t, &NavigationSetupError{URL: "https://example.com", Err: cause}, cause)
}
