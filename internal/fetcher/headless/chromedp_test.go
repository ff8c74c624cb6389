package headless

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/patent-crawler/internal/crawler"
)

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.withDefaults()
	require.Equal(t, crawler.DefaultTimeout, cfg.NavigationTimeout)
	require.Equal(t, 10*time.Second, cfg.WaitTimeout)
	require.Equal(t, 30*time.Second, cfg.LaunchTimeout)

	cfg = Config{WaitTimeout: time.Second}.withDefaults()
	require.Equal(t, time.Second, cfg.WaitTimeout)
}

func TestLaunchFailsWithoutBrowser(t *testing.T) {
	t.Parallel()

	l := NewLauncher(Config{
		ExecPath:      "/nonexistent/chrome-for-tests",
		LaunchTimeout: 5 * time.Second,
	}, nil)
	require.Equal(t, crawler.FetchModeBrowser, l.Mode())

	s, err := l.Launch(context.Background())
	require.Nil(t, s)
	require.Error(t, err)
	require.True(t, errors.Is(err, crawler.ErrBrowserUnavailable))
}

func TestLaunchHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	l := NewLauncher(Config{ExecPath: "/nonexistent/chrome-for-tests"}, nil)
	_, err := l.Launch(ctx)
	require.ErrorIs(t, err, crawler.ErrBrowserUnavailable)
}

func TestAllocatorOptions(t *testing.T) {
	t.Parallel()

	base := len(NewLauncher(Config{}, nil).allocatorOptions())
	withExtras := len(NewLauncher(Config{UserAgent: "ua", ExecPath: "/bin/true"}, nil).allocatorOptions())
	require.Equal(t, base+2, withExtras)
}

func TestResponseMetaKeepsFirstDocumentStatus(t *testing.T) {
	t.Parallel()

	meta := &responseMeta{}
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 500},
	})
	require.Zero(t, meta.status())

	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404},
	})
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200},
	})
	meta.captureEvent("not an event")
	require.Equal(t, 404, meta.status())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	calls := 0
	s := &Session{
		browserCancel: func() { calls++ },
		allocCancel:   func() { calls++ },
	}
	require.Equal(t, crawler.FetchModeBrowser, s.Mode())
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.Equal(t, 2, calls)
}
