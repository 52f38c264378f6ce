package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Playwright launches Chromium through a playwright driver process.
// Calls into playwright are not cancellable; the adapters only refuse to
// start work on an already-cancelled context.
type Playwright struct {
	pw *playwright.Playwright
}

// StartPlaywright starts the playwright driver. When install is true the
// driver and Chromium are downloaded first if missing.
func StartPlaywright(install bool) (*Playwright, error) {
	if install {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("failed to install playwright: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	return &Playwright{pw: pw}, nil
}

// Launch starts a Chromium process.
func (p *Playwright) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, err := p.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     opts.Args,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}
	return &pwBrowser{b: b}, nil
}

// Stop shuts the driver down.
func (p *Playwright) Stop() error {
	return p.pw.Stop()
}

type pwBrowser struct {
	b playwright.Browser
}

func (b *pwBrowser) NewContext(ctx context.Context, opts ContextOptions) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := b.b.NewContext(playwright.BrowserNewContextOptions{
		Permissions: opts.Permissions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return &pwContext{c: c}, nil
}

func (b *pwBrowser) Close() error {
	return b.b.Close()
}

type pwContext struct {
	c playwright.BrowserContext
}

func (c *pwContext) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.c.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &pwPage{p: p}, nil
}

func (c *pwContext) StartTracing(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.c.Tracing().Start(playwright.TracingStartOptions{
		Screenshots: playwright.Bool(true),
		Snapshots:   playwright.Bool(true),
	})
}

func (c *pwContext) StopTracing(_ context.Context, path string) error {
	if path == "" {
		return c.c.Tracing().Stop()
	}
	return c.c.Tracing().Stop(path)
}

func (c *pwContext) Close() error {
	return c.c.Close()
}

type pwPage struct {
	p playwright.Page
}

func (p *pwPage) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := p.p.Goto(url)
	return err
}

func (p *pwPage) Fill(ctx context.Context, selector, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.p.Locator(selector).Fill(value)
}

func (p *pwPage) Click(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.p.Locator(selector).Click()
}

func (p *pwPage) WaitFor(ctx context.Context, selector string, state WaitState, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := playwright.WaitForSelectorStateAttached
	if state == StateVisible {
		s = playwright.WaitForSelectorStateVisible
	}
	return p.p.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   s,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

func (p *pwPage) Evaluate(ctx context.Context, expression string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.p.Evaluate(expression)
}

func (p *pwPage) AddInitScript(ctx context.Context, script string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.p.AddInitScript(playwright.Script{Content: playwright.String(script)})
}

func (p *pwPage) Attribute(ctx context.Context, selector, name string, timeout time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.p.Locator(selector).First().GetAttribute(name, playwright.LocatorGetAttributeOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

func (p *pwPage) RoleCount(ctx context.Context, scope, role, name string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return p.byRole(scope, role, name).Count()
}

func (p *pwPage) ClickRole(ctx context.Context, scope, role, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.byRole(scope, role, name).Click()
}

func (p *pwPage) byRole(scope, role, name string) playwright.Locator {
	if scope == "" {
		return p.p.GetByRole(playwright.AriaRole(role), playwright.PageGetByRoleOptions{Name: name})
	}
	return p.p.Locator(scope).GetByRole(playwright.AriaRole(role), playwright.LocatorGetByRoleOptions{Name: name})
}

func (p *pwPage) Expose(name string, fn Binding) error {
	return p.p.ExposeFunction(name, func(args ...interface{}) interface{} {
		return fn(args...)
	})
}

func (p *pwPage) OnConsole(fn func(ConsoleMessage)) {
	p.p.OnConsole(func(m playwright.ConsoleMessage) {
		fn(ConsoleMessage{Type: m.Type(), Text: m.Text()})
	})
}

func (p *pwPage) SetDefaultTimeout(d time.Duration) {
	p.p.SetDefaultTimeout(float64(d.Milliseconds()))
}
