// Package browser runs stealth page sessions on headless Chrome via chromedp.
package browser

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/voxleads/chimera/internal/mission"
	"github.com/voxleads/chimera/internal/stealth"
)

// Config controls session creation.
type Config struct {
	// MaxSessions bounds concurrently open Chrome processes. Zero means
	// unbounded.
	MaxSessions       int
	NavigationTimeout time.Duration
	// Headful disables headless mode for local debugging.
	Headful bool
}

// Chrome implements mission.Browser. Every session gets its own exec
// allocator so the proxy and fingerprint bind at the process level; sharing
// one browser across identities would leak state between them.
type Chrome struct {
	cfg    Config
	logger *zap.Logger
	sem    chan struct{}
}

// NewChrome creates a Chrome session factory.
func NewChrome(cfg Config, logger *zap.Logger) *Chrome {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var sem chan struct{}
	if cfg.MaxSessions > 0 {
		sem = make(chan struct{}, cfg.MaxSessions)
	}
	return &Chrome{cfg: cfg, logger: logger, sem: sem}
}

// NewSession launches a Chrome process configured for the identity and
// installs the stealth script before any page script can run.
func (c *Chrome) NewSession(ctx context.Context, id *mission.Identity) (mission.PageSession, error) {
	release, err := c.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !c.cfg.Headful),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.UserAgent(id.Fingerprint.UserAgent),
		chromedp.WindowSize(id.Fingerprint.ViewportWidth, id.Fingerprint.ViewportHeight),
	)
	if id.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(id.ProxyURL))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &session{
		chrome:      c,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		release:     release,
		rng:         rand.New(rand.NewSource(id.Fingerprint.CanvasSeed)),
		timeout:     c.cfg.NavigationTimeout,
		logger:      c.logger.With(zap.String("session_id", id.SessionID)),
	}

	script := stealth.GenerateScript(id.Fingerprint)
	setup := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(id.Fingerprint.UserAgent).
			WithAcceptLanguage(id.Fingerprint.Locale),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}),
	}
	if err := chromedp.Run(tabCtx, setup); err != nil {
		s.Close()
		return nil, fmt.Errorf("session setup: %w", err)
	}
	return s, nil
}

func (c *Chrome) acquireSlot(ctx context.Context) (func(), error) {
	if c.sem == nil {
		return func() {}, nil
	}
	select {
	case c.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-c.sem }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire session slot: %w", ctx.Err())
	}
}

type session struct {
	chrome      *Chrome
	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	release     func()
	rng         *rand.Rand
	timeout     time.Duration
	logger      *zap.Logger
}

func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tabCtx, s.timeout)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read dom: %w", err)
	}
	return html, nil
}

func (s *session) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot: %w", err)
	}
	return buf, nil
}

func (s *session) Exists(ctx context.Context, selector string) (bool, error) {
	var count int
	script := fmt.Sprintf("document.querySelectorAll(%q).length", selector)
	if err := s.run(ctx, chromedp.Evaluate(script, &count)); err != nil {
		return false, fmt.Errorf("probe %s: %w", selector, err)
	}
	return count > 0, nil
}

func (s *session) Location(ctx context.Context, selector string) (mission.Point, bool, error) {
	script := fmt.Sprintf(`(() => {
  const el = document.querySelector(%q);
  if (!el) return null;
  const r = el.getBoundingClientRect();
  return { x: r.left + r.width / 2, y: r.top + r.height / 2 };
})()`, selector)
	var pt *mission.Point
	if err := s.run(ctx, chromedp.Evaluate(script, &pt)); err != nil {
		return mission.Point{}, false, fmt.Errorf("locate %s: %w", selector, err)
	}
	if pt == nil {
		return mission.Point{}, false, nil
	}
	return *pt, true, nil
}

// Type focuses the field and sends keys one at a time with jittered delays.
// Instant programmatic fill is a strong automation signal on guarded forms.
func (s *session) Type(ctx context.Context, selector, text string) error {
	actions := []chromedp.Action{
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	}
	for _, r := range text {
		actions = append(actions,
			chromedp.Sleep(s.keystrokeDelay()),
			chromedp.SendKeys(selector, string(r), chromedp.ByQuery),
		)
	}
	if err := s.run(ctx, actions...); err != nil {
		return fmt.Errorf("type into %s: %w", selector, err)
	}
	return nil
}

func (s *session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Sleep(s.keystrokeDelay()),
		chromedp.Click(selector, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// ClickAt dispatches raw mouse events at viewport coordinates, used when the
// target was grounded visually rather than through a selector.
func (s *session) ClickAt(ctx context.Context, x, y float64) error {
	press := input.DispatchMouseEvent(input.MousePressed, x, y).
		WithButton(input.Left).
		WithClickCount(1)
	release := input.DispatchMouseEvent(input.MouseReleased, x, y).
		WithButton(input.Left).
		WithClickCount(1)
	err := s.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			move := input.DispatchMouseEvent(input.MouseMoved, x, y)
			if err := move.Do(ctx); err != nil {
				return err
			}
			return nil
		}),
		chromedp.Sleep(s.keystrokeDelay()),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := press.Do(ctx); err != nil {
				return err
			}
			return release.Do(ctx)
		}),
	)
	if err != nil {
		return fmt.Errorf("click at (%.0f, %.0f): %w", x, y, err)
	}
	return nil
}

func (s *session) Text(ctx context.Context, selector string) (string, error) {
	var text string
	if err := s.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read text %s: %w", selector, err)
	}
	return text, nil
}

func (s *session) TextAt(ctx context.Context, x, y float64) (string, error) {
	script := fmt.Sprintf(`(() => {
  const el = document.elementFromPoint(%g, %g);
  return el ? el.textContent.trim() : "";
})()`, x, y)
	var text string
	if err := s.run(ctx, chromedp.Evaluate(script, &text)); err != nil {
		return "", fmt.Errorf("read text at (%.0f, %.0f): %w", x, y, err)
	}
	return text, nil
}

func (s *session) Close() {
	s.tabCancel()
	s.allocCancel()
	s.release()
}

func (s *session) keystrokeDelay() time.Duration {
	return 40*time.Millisecond + time.Duration(s.rng.Intn(120))*time.Millisecond
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
