package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrControlNotFound is returned when no selector matched before the timeout.
var ErrControlNotFound = errors.New("page control not found")

const clickPoll = 500 * time.Millisecond

// meetingEndedJS reports whether the page shows a left, ended or removed screen.
const meetingEndedJS = `(() => {
	const text = (document.body && document.body.innerText || "").toLowerCase();
	const markers = [
		"you left the meeting",
		"the call has ended",
		"you've been removed from the meeting",
		"meeting has ended",
		"return to home screen",
	];
	return markers.some(m => text.includes(m));
})()`

// ChromeConfig holds browser launch settings.
type ChromeConfig struct {
	ExecPath string
	Headless bool
	Display  string
}

// ChromeBrowser drives a Chrome instance over the DevTools protocol.
type ChromeBrowser struct {
	cfg         ChromeConfig
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	// exec runs actions against a chromedp context.
	exec func(ctx context.Context, actions ...chromedp.Action) error
}

// NewChromeBrowser returns an unlaunched browser.
func NewChromeBrowser(cfg ChromeConfig, logger *zap.Logger) *ChromeBrowser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeBrowser{cfg: cfg, logger: logger.Named("chrome"), exec: chromedp.Run}
}

// Launch starts Chrome on the tutor's profile with camera and microphone
// pre-granted for origin.
func (b *ChromeBrowser) Launch(ctx context.Context, profileDir, origin string) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("use-fake-ui-for-media-stream", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
		chromedp.Flag("disable-notifications", true),
		chromedp.WindowSize(1280, 720),
	)
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	if b.cfg.Display != "" {
		opts = append(opts, chromedp.Env("DISPLAY="+b.cfg.Display))
	}

	// The browser lives until Close, not until the caller's ctx.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	bctx, cancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(b.logger.Sugar().Debugf))
	b.ctx, b.cancel, b.allocCancel = bctx, cancel, allocCancel

	perms := browser.GrantPermissions([]browser.PermissionType{
		browser.PermissionTypeAudioCapture,
		browser.PermissionTypeVideoCapture,
	}).WithOrigin(origin)
	// The first Run allocates the browser process and binds it to the context
	// it is given, so it must run on the browser context itself. A caller that
	// gives up mid-launch tears the browser down.
	stop := context.AfterFunc(ctx, cancel)
	err := b.exec(bctx, perms)
	if !stop() {
		return fmt.Errorf("launch browser: %w", ctx.Err())
	}
	if err != nil {
		return fmt.Errorf("grant media permissions: %w", err)
	}
	return nil
}

// run executes actions in an already launched browser, bounded by ctx.
func (b *ChromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	if b.ctx == nil {
		return errors.New("browser not launched")
	}
	rctx, cancel := context.WithCancel(b.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return b.exec(rctx, actions...)
}

// Navigate opens the meeting page.
func (b *ChromeBrowser) Navigate(ctx context.Context, meetingURL string) error {
	return b.run(ctx, chromedp.Navigate(meetingURL))
}

// LocateAndClick clicks the first element matching any selector, polling until timeout.
func (b *ChromeBrowser) LocateAndClick(ctx context.Context, selectors []string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range selectors {
			var nodes []*cdp.Node
			if err := b.run(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0))); err != nil {
				return err
			}
			if len(nodes) == 0 {
				continue
			}
			if err := b.run(ctx, chromedp.MouseClickNode(nodes[0])); err != nil {
				return fmt.Errorf("click %q: %w", sel, err)
			}
			b.logger.Debug("clicked control", zap.String("selector", sel))
			return nil
		}
		if time.Now().After(deadline) {
			return ErrControlNotFound
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(clickPoll):
		}
	}
}

// MeetingEnded reports whether the page shows the meeting is over.
func (b *ChromeBrowser) MeetingEnded(ctx context.Context) (bool, error) {
	var ended bool
	if err := b.run(ctx, chromedp.Evaluate(meetingEndedJS, &ended)); err != nil {
		return false, err
	}
	return ended, nil
}

// Close terminates the browser.
func (b *ChromeBrowser) Close() error {
	if b.cancel != nil {
		b.cancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	return nil
}
