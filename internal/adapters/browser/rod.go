package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"
	"go.uber.org/zap"
)

// RodLauncher starts a dedicated Chromium process per call.
type RodLauncher struct {
	cfg    Config
	logger *zap.Logger
}

var _ Launcher = (*RodLauncher)(nil)

func NewRodLauncher(cfg Config, logger *zap.Logger) *RodLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RodLauncher{cfg: cfg, logger: logger.With(zap.String("component", "launcher"))}
}

func (l *RodLauncher) Launch(ctx context.Context) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ln := launcher.New().
		Headless(l.cfg.Headless).
		Leakless(true).
		Set("disable-blink-features", "AutomationControlled").
		Set("autoplay-policy", "no-user-gesture-required").
		Set("no-first-run").
		Set("no-default-browser-check")
	if l.cfg.Bin != "" {
		ln = ln.Bin(l.cfg.Bin)
	}
	for _, raw := range l.cfg.Flags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasValue {
			ln = ln.Set(flags.Flag(name), value)
		} else {
			ln = ln.Set(flags.Flag(name))
		}
	}

	controlURL, err := ln.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		ln.Kill()
		ln.Cleanup()
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}

	var page *rod.Page
	if l.cfg.Stealth {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		_ = browser.Close()
		ln.Kill()
		ln.Cleanup()
		return nil, fmt.Errorf("open platform tab: %w", err)
	}

	rb := &rodBrowser{
		browser:  browser,
		launcher: ln,
		main:     &rodPage{page: page},
		crashed:  make(chan struct{}),
		logger:   l.logger,
	}
	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(browser); err != nil {
		l.logger.Debug("target discovery unavailable", zap.Error(err))
	}
	go browser.EachEvent(func(e *proto.TargetTargetCrashed) {
		rb.logger.Warn("browser target crashed", zap.String("target_id", string(e.TargetID)), zap.String("status", e.Status))
		rb.crashOnce.Do(func() { close(rb.crashed) })
	})()

	l.logger.Debug("browser launched", zap.String("control_url", controlURL), zap.Bool("stealth", l.cfg.Stealth))
	return rb, nil
}

type rodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	main     *rodPage
	logger   *zap.Logger

	crashed   chan struct{}
	crashOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

func (b *rodBrowser) Page() Page {
	return b.main
}

func (b *rodBrowser) NewTab(ctx context.Context, url string) (Page, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("open tab %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("load tab %s: %w", url, err)
	}
	return &rodPage{page: page}, nil
}

func (b *rodBrowser) Crashed() <-chan struct{} {
	return b.crashed
}

func (b *rodBrowser) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.browser.Close()
		b.launcher.Kill()
		b.launcher.Cleanup()
	})
	return b.closeErr
}

type rodPage struct {
	page *rod.Page

	closeOnce sync.Once
	closeErr  error
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *rodPage) Reload(ctx context.Context) error {
	page := p.page.Context(ctx)
	if err := page.Reload(); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *rodPage) Eval(ctx context.Context, script Script, args ...any) (gson.JSON, error) {
	result, err := p.page.Context(ctx).Evaluate(rod.Eval(script.Source, args...).ByPromise())
	if err != nil {
		return gson.JSON{}, err
	}
	return result.Value, nil
}

func (p *rodPage) Expose(name string, fn func(gson.JSON)) (func() error, error) {
	return p.page.Expose(name, func(payload gson.JSON) (interface{}, error) {
		fn(payload)
		return nil, nil
	})
}

func (p *rodPage) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.page.Close()
	})
	return p.closeErr
}
