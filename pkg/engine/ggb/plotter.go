package ggb

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog"
	"github.com/ysmood/gson"

	"github.com/harun/ggbconnect/pkg/engine"
)

// notifyFuncName is the page-global bridge the applet listeners call into.
const notifyFuncName = "__ggbNotify"

const registerListenersJS = `() => {
	const notify = (kind, args) => window.` + notifyFuncName + `({ kind, args });
	window.ggbApplet.registerAddListener(label => notify('add', [label]));
	window.ggbApplet.registerRemoveListener(label => notify('remove', [label]));
	window.ggbApplet.registerUpdateListener(label => notify('update', [label]));
	window.ggbApplet.registerRenameListener((oldLabel, newLabel) => notify('rename', [oldLabel, newLabel]));
}`

const unregisterListenersJS = `() => {
	if (typeof window.ggbApplet === 'undefined') return;
	window.ggbApplet.unregisterAddListener();
	window.ggbApplet.unregisterRemoveListener();
	window.ggbApplet.unregisterUpdateListener();
	window.ggbApplet.unregisterRenameListener();
}`

// Plotter drives one GeoGebra applet page. It implements engine.Handle.
type Plotter struct {
	page       *rod.Page
	pool       *Pool
	logger     zerolog.Logger
	stopNotify func() error

	mu       sync.Mutex
	handlers map[engine.EventKind]engine.EventHandler
	released bool
}

func newPlotter(page *rod.Page, pool *Pool, logger zerolog.Logger) (*Plotter, error) {
	p := &Plotter{
		page:     page,
		pool:     pool,
		logger:   logger,
		handlers: make(map[engine.EventKind]engine.EventHandler),
	}

	stop, err := page.Expose(notifyFuncName, func(j gson.JSON) (interface{}, error) {
		p.dispatch(j)
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expose notify bridge: %w", err)
	}
	p.stopNotify = stop

	if _, err := page.Eval(registerListenersJS); err != nil {
		_ = stop()
		return nil, fmt.Errorf("failed to register applet listeners: %w", err)
	}

	return p, nil
}

// dispatch routes one applet notification to the registered handler
func (p *Plotter) dispatch(j gson.JSON) {
	kind := engine.EventKind(j.Get("kind").Str())

	var args []interface{}
	for _, el := range j.Get("args").Arr() {
		args = append(args, el.Val())
	}

	p.mu.Lock()
	handler := p.handlers[kind]
	p.mu.Unlock()

	if handler != nil {
		handler(args...)
	}
}

// OnEvent registers the handler for one change kind, replacing any previous one.
func (p *Plotter) OnEvent(kind engine.EventKind, handler engine.EventHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[kind] = handler
}

// EvalScript executes a single script instruction in the applet.
func (p *Plotter) EvalScript(ctx context.Context, script string) error {
	if err := p.checkLive(); err != nil {
		return err
	}

	result, err := p.page.Context(ctx).Eval(`cmd => window.ggbApplet.evalCommand(cmd)`, script)
	if err != nil {
		return fmt.Errorf("script execution failed: %w", err)
	}

	// evalCommand returns false when the applet rejects the instruction
	if !result.Value.Bool() {
		return fmt.Errorf("engine rejected script: %q", script)
	}

	return nil
}

// Export64 returns the engine state serialized in the given format as base64.
func (p *Plotter) Export64(ctx context.Context, format engine.Format) (string, error) {
	if err := p.checkLive(); err != nil {
		return "", err
	}

	page := p.page.Context(ctx)

	switch format {
	case engine.FormatGGB:
		result, err := page.Eval(`() => window.ggbApplet.getBase64()`)
		if err != nil {
			return "", fmt.Errorf("ggb export failed: %w", err)
		}
		return result.Value.Str(), nil

	case engine.FormatPNG:
		result, err := page.Eval(`() => window.ggbApplet.getPNGBase64(1, true, 72)`)
		if err != nil {
			return "", fmt.Errorf("png export failed: %w", err)
		}
		return result.Value.Str(), nil

	case engine.FormatSVG:
		result, err := page.Eval(`() => window.ggbApplet.exportSVG()`)
		if err != nil {
			return "", fmt.Errorf("svg export failed: %w", err)
		}
		return base64.StdEncoding.EncodeToString([]byte(result.Value.Str())), nil

	case engine.FormatPDF:
		result, err := page.Eval(`() => window.ggbApplet.exportPDF()`)
		if err != nil {
			return "", fmt.Errorf("pdf export failed: %w", err)
		}
		// exportPDF yields a data URI; strip the prefix
		return stripDataURI(result.Value.Str()), nil
	}

	return "", fmt.Errorf("unknown export format: %q", format)
}

// Export returns the engine state serialized in the given format as raw bytes.
func (p *Plotter) Export(ctx context.Context, format engine.Format) ([]byte, error) {
	encoded, err := p.Export64(ctx, format)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("engine returned malformed base64: %w", err)
	}
	return data, nil
}

// Release resets the applet and returns the page to the pool.
func (p *Plotter) Release(ctx context.Context) error {
	p.mu.Lock()
	if p.released {
		p.mu.Unlock()
		return fmt.Errorf("plotter already released")
	}
	p.released = true
	p.handlers = make(map[engine.EventKind]engine.EventHandler)
	p.mu.Unlock()

	page := p.page.Context(ctx)

	if _, err := page.Eval(unregisterListenersJS); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to unregister applet listeners, closing page")
		_ = p.stopNotify()
		return p.page.Close()
	}

	if err := p.stopNotify(); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to remove notify bridge")
	}

	if _, err := page.Eval(`() => window.ggbApplet.reset()`); err != nil {
		p.logger.Warn().Err(err).Msg("Failed to reset applet, closing page")
		return p.page.Close()
	}

	p.pool.recycle(p.page)
	return nil
}

func (p *Plotter) checkLive() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return fmt.Errorf("plotter already released")
	}
	return nil
}

func stripDataURI(s string) string {
	const marker = ";base64,"
	for i := 0; i+len(marker) <= len(s); i++ {
		if s[i:i+len(marker)] == marker {
			return s[i+len(marker):]
		}
	}
	return s
}
