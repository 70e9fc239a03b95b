package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ysmood/gson"
)

// Page is one browser tab. Handles are single-owner; Close is idempotent.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Eval(ctx context.Context, script Script, args ...any) (gson.JSON, error)
	// Expose binds fn to window[name] until stop is called.
	Expose(name string, fn func(gson.JSON)) (stop func() error, err error)
	Close() error
}

type Browser interface {
	Page() Page
	NewTab(ctx context.Context, url string) (Page, error)
	// Crashed is closed once any target of the browser crashes.
	Crashed() <-chan struct{}
	Close() error
}

type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

type LaunchFunc func(ctx context.Context) (Browser, error)

func (f LaunchFunc) Launch(ctx context.Context) (Browser, error) {
	return f(ctx)
}

func decode(value gson.JSON, out any) error {
	raw, err := value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode page value: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode page value: %w", err)
	}
	return nil
}

// evalInto runs script and decodes its JSON result into out.
func evalInto(ctx context.Context, page Page, script Script, out any, args ...any) error {
	value, err := page.Eval(ctx, script, args...)
	if err != nil {
		return fmt.Errorf("eval %s: %w", script.Name, err)
	}
	if value.Nil() {
		return nil
	}
	return decode(value, out)
}
