package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ysmood/gson"
)

type evalHandler func(p *fakePage, args []any) (any, error)

type fakePage struct {
	mu        sync.Mutex
	handlers  map[string]evalHandler
	calls     map[string]int
	navigated []string
	reloads   int
	exposed   map[string]func(gson.JSON)
	navErr    error
	closes    atomic.Int32
}

func newFakePage(handlers map[string]evalHandler) *fakePage {
	if handlers == nil {
		handlers = map[string]evalHandler{}
	}
	return &fakePage{
		handlers: handlers,
		calls:    map[string]int{},
		exposed:  map[string]func(gson.JSON){},
	}
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	return p.navErr
}

func (p *fakePage) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reloads++
	return ctx.Err()
}

func (p *fakePage) Eval(ctx context.Context, script Script, args ...any) (gson.JSON, error) {
	if err := ctx.Err(); err != nil {
		return gson.JSON{}, err
	}

	p.mu.Lock()
	p.calls[script.Name]++
	handler := p.handlers[script.Name]
	p.mu.Unlock()

	if handler == nil {
		return gson.New(nil), nil
	}
	value, err := handler(p, args)
	if err != nil {
		return gson.JSON{}, err
	}
	return gson.New(value), nil
}

func (p *fakePage) Expose(name string, fn func(gson.JSON)) (func() error, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exposed[name] = fn
	return func() error {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.exposed, name)
		return nil
	}, nil
}

func (p *fakePage) Close() error {
	p.closes.Add(1)
	return nil
}

func (p *fakePage) setHandler(name string, handler evalHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[name] = handler
}

func (p *fakePage) callCount(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *fakePage) emit(name string, value any) {
	p.mu.Lock()
	fn := p.exposed[name]
	p.mu.Unlock()
	if fn != nil {
		fn(gson.New(value))
	}
}

func (p *fakePage) exposedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.exposed)
}

type fakeBrowser struct {
	main    *fakePage
	tab     *fakePage
	tabURLs []string
	crashed chan struct{}
	closes  atomic.Int32
}

func newFakeBrowser(main *fakePage, tab *fakePage) *fakeBrowser {
	return &fakeBrowser{main: main, tab: tab, crashed: make(chan struct{})}
}

func (b *fakeBrowser) Page() Page {
	return b.main
}

func (b *fakeBrowser) NewTab(_ context.Context, url string) (Page, error) {
	b.tabURLs = append(b.tabURLs, url)
	if b.tab == nil {
		return nil, errors.New("tab creation refused")
	}
	return b.tab, nil
}

func (b *fakeBrowser) Crashed() <-chan struct{} {
	return b.crashed
}

func (b *fakeBrowser) Close() error {
	b.closes.Add(1)
	return nil
}

// fakeLauncher hands out browsers built by next, in launch order.
type fakeLauncher struct {
	mu       sync.Mutex
	next     func(n int) (*fakeBrowser, error)
	browsers []*fakeBrowser
}

func (l *fakeLauncher) Launch(context.Context) (Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	browser, err := l.next(len(l.browsers))
	if err != nil {
		l.browsers = append(l.browsers, nil)
		return nil, err
	}
	l.browsers = append(l.browsers, browser)
	return browser, nil
}

func (l *fakeLauncher) launched() []*fakeBrowser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeBrowser(nil), l.browsers...)
}

// virtualSleep advances a fake clock instead of blocking.
type virtualSleep struct {
	mu     sync.Mutex
	total  time.Duration
	delays []time.Duration
}

func (s *virtualSleep) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += d
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *virtualSleep) elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func constant(value any) evalHandler {
	return func(*fakePage, []any) (any, error) {
		return value, nil
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.URL = "https://platform.test"
	cfg.InitAttempts = 1
	cfg.Mailbox.URL = "https://mailbox.test"
	return cfg
}
