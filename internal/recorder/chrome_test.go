package recorder

import (
	"context"
	"sync"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRuns struct {
	mu   sync.Mutex
	ctxs []context.Context
}

func (r *recordedRuns) run(ctx context.Context, _ ...chromedp.Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctxs = append(r.ctxs, ctx)
	return nil
}

func (r *recordedRuns) at(i int) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctxs[i]
}

func TestChromeBrowserKeepsBrowserContextAfterLaunch(t *testing.T) {
	runs := &recordedRuns{}
	b := NewChromeBrowser(ChromeConfig{Headless: true}, nil)
	b.exec = runs.run

	require.NoError(t, b.Launch(context.Background(), t.TempDir(), "https://meet.google.com"))
	first := runs.at(0)
	assert.NoError(t, first.Err(), "browser process is bound to this context")

	require.NoError(t, b.Navigate(context.Background(), "https://meet.google.com/abc-defg-hij"))
	assert.Error(t, runs.at(1).Err(), "per-call context is released")
	assert.NoError(t, first.Err(), "later actions leave the browser running")

	require.NoError(t, b.Close())
	assert.Error(t, first.Err())
}

func TestChromeBrowserLaunchAbandonedByCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewChromeBrowser(ChromeConfig{Headless: true}, nil)
	b.exec = func(bctx context.Context, _ ...chromedp.Action) error {
		cancel()
		<-bctx.Done()
		return bctx.Err()
	}

	err := b.Launch(ctx, t.TempDir(), "https://meet.google.com")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, b.Close())
}

func TestChromeBrowserRequiresLaunch(t *testing.T) {
	b := NewChromeBrowser(ChromeConfig{}, nil)
	assert.Error(t, b.Navigate(context.Background(), "https://meet.google.com/x"))
	_, err := b.MeetingEnded(context.Background())
	assert.Error(t, err)
}
