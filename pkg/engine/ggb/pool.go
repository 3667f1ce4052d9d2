package ggb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/harun/ggbconnect/pkg/engine"
)

const appletPollInterval = 200 * time.Millisecond

// Config holds pool configuration
type Config struct {
	AppURL   string
	Headless bool
	Size     int // number of warm applet pages kept for reuse
	Logger   zerolog.Logger
}

// Pool keeps a browser with warm GeoGebra applet pages and hands out
// plotters bound to them. It implements engine.Factory.
type Pool struct {
	appURL   string
	size     int
	logger   zerolog.Logger
	launcher *launcher.Launcher
	browser  *rod.Browser

	mu     sync.Mutex
	idle   []*rod.Page
	closed bool
}

// NewPool launches the browser and returns a ready pool
func NewPool(cfg Config) (*Pool, error) {
	if cfg.AppURL == "" {
		return nil, fmt.Errorf("app URL is required")
	}
	if cfg.Size < 1 {
		cfg.Size = 1
	}

	l := launcher.New().Headless(cfg.Headless)

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	p := &Pool{
		appURL:   cfg.AppURL,
		size:     cfg.Size,
		logger:   cfg.Logger.With().Str("component", "ggb-pool").Logger(),
		launcher: l,
		browser:  browser,
	}

	p.logger.Info().Str("appUrl", cfg.AppURL).Int("size", cfg.Size).Msg("Engine pool started")
	return p, nil
}

// Acquire returns a plotter bound to a fresh or recycled applet page.
func (p *Pool) Acquire(ctx context.Context) (engine.Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("engine pool is closed")
	}

	var page *rod.Page
	if n := len(p.idle); n > 0 {
		page = p.idle[n-1]
		p.idle = p.idle[:n-1]
	}
	p.mu.Unlock()

	if page == nil {
		var err error
		page, err = p.newAppletPage(ctx)
		if err != nil {
			return nil, err
		}
	}

	plotter, err := newPlotter(page, p, p.logger)
	if err != nil {
		_ = page.Close()
		return nil, err
	}

	return plotter, nil
}

// newAppletPage opens the applet URL and waits until ggbApplet is injected
func (p *Pool) newAppletPage(ctx context.Context) (*rod.Page, error) {
	page, err := p.browser.Page(proto.TargetCreateTarget{URL: p.appURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create applet page: %w", err)
	}

	page = page.Context(ctx)

	if err := page.WaitLoad(); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("applet page load failed: %w", err)
	}

	// The applet injects window.ggbApplet asynchronously after load
	for {
		result, err := page.Eval(`() => typeof window.ggbApplet !== 'undefined'`)
		if err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("applet readiness check failed: %w", err)
		}
		if result.Value.Bool() {
			break
		}

		select {
		case <-ctx.Done():
			_ = page.Close()
			return nil, fmt.Errorf("timed out waiting for applet: %w", ctx.Err())
		case <-time.After(appletPollInterval):
		}
	}

	return page, nil
}

// recycle returns a reset page to the warm pool, or closes it when full
func (p *Pool) recycle(page *rod.Page) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || len(p.idle) >= p.size {
		_ = page.Close()
		return
	}

	p.idle = append(p.idle, page)
}

// Close shuts down the browser and all pages
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.idle = nil
	p.mu.Unlock()

	err := p.browser.Close()
	p.launcher.Cleanup()

	p.logger.Info().Msg("Engine pool closed")
	return err
}
