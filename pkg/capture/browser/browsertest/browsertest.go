// Package browsertest provides scriptable in-memory browser fakes.
package browsertest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/otherjamesbrown/meetcap/pkg/capture/browser"
)

// Call is one recorded page interaction.
type Call struct {
	Op     string
	Target string
	Value  string
}

func (c Call) String() string {
	if c.Value == "" {
		return c.Op + " " + c.Target
	}
	return c.Op + " " + c.Target + " = " + c.Value
}

// Page is a fake browser.Page. Errors are keyed "op target", e.g.
// "click #join" or "goto https://example.org".
type Page struct {
	mu sync.Mutex

	calls      []Call
	errs       map[string]error
	roleCounts map[string]int
	attrs      map[string]string
	bindings   map[string]browser.Binding
	console    []func(browser.ConsoleMessage)
	timeout    time.Duration

	// EvalFunc answers Evaluate. Nil returns (nil, nil).
	EvalFunc func(expression string) (any, error)
}

// NewPage returns an empty fake page.
func NewPage() *Page {
	return &Page{
		errs:       make(map[string]error),
		roleCounts: make(map[string]int),
		attrs:      make(map[string]string),
		bindings:   make(map[string]browser.Binding),
	}
}

// FailOn makes the interaction "op target" return err.
func (p *Page) FailOn(op, target string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[op+" "+target] = err
}

// SetRoleCount fixes what RoleCount reports for a role locator.
func (p *Page) SetRoleCount(scope, role, name string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.roleCounts[roleKey(scope, role, name)] = n
}

// SetAttribute fixes an attribute value.
func (p *Page) SetAttribute(selector, name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attrs[selector+"@"+name] = value
}

// Calls returns every recorded interaction in order.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Ops returns the recorded interactions as strings.
func (p *Page) Ops() []string {
	calls := p.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}

// Count returns how many times "op target" was recorded.
func (p *Page) Count(op, target string) int {
	n := 0
	for _, c := range p.Calls() {
		if c.Op == op && c.Target == target {
			n++
		}
	}
	return n
}

// Invoke calls an exposed binding the way page script would.
func (p *Page) Invoke(name string, args ...any) (any, error) {
	p.mu.Lock()
	fn, ok := p.bindings[name]
	p.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("binding %s not exposed", name)
	}
	return fn(args...), nil
}

// Exposed reports whether a binding has been registered.
func (p *Page) Exposed(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.bindings[name]
	return ok
}

// Log emits a console message to registered handlers.
func (p *Page) Log(typ, text string) {
	p.mu.Lock()
	handlers := append([]func(browser.ConsoleMessage){}, p.console...)
	p.mu.Unlock()
	for _, h := range handlers {
		h(browser.ConsoleMessage{Type: typ, Text: text})
	}
}

// DefaultTimeout returns the last timeout set on the page.
func (p *Page) DefaultTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeout
}

func (p *Page) record(ctx context.Context, op, target, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Op: op, Target: target, Value: value})
	return p.errs[op+" "+target]
}

func (p *Page) Goto(ctx context.Context, url string) error {
	return p.record(ctx, "goto", url, "")
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	return p.record(ctx, "fill", selector, value)
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.record(ctx, "click", selector, "")
}

func (p *Page) WaitFor(ctx context.Context, selector string, state browser.WaitState, _ time.Duration) error {
	return p.record(ctx, "wait", selector, string(state))
}

func (p *Page) Evaluate(ctx context.Context, expression string) (any, error) {
	if err := p.record(ctx, "evaluate", expression, ""); err != nil {
		return nil, err
	}
	if p.EvalFunc == nil {
		return nil, nil
	}
	return p.EvalFunc(expression)
}

func (p *Page) AddInitScript(ctx context.Context, script string) error {
	return p.record(ctx, "init_script", fmt.Sprintf("%d bytes", len(script)), "")
}

func (p *Page) Attribute(ctx context.Context, selector, name string, _ time.Duration) (string, error) {
	if err := p.record(ctx, "attribute", selector, name); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.attrs[selector+"@"+name]
	if !ok {
		return "", fmt.Errorf("attribute %s of %s not found", name, selector)
	}
	return v, nil
}

func (p *Page) RoleCount(ctx context.Context, scope, role, name string) (int, error) {
	if err := p.record(ctx, "role_count", roleKey(scope, role, name), ""); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.roleCounts[roleKey(scope, role, name)], nil
}

func (p *Page) ClickRole(ctx context.Context, scope, role, name string) error {
	return p.record(ctx, "click_role", roleKey(scope, role, name), "")
}

func (p *Page) Expose(name string, fn browser.Binding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Op: "expose", Target: name})
	if err := p.errs["expose "+name]; err != nil {
		return err
	}
	p.bindings[name] = fn
	return nil
}

func (p *Page) OnConsole(fn func(browser.ConsoleMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.console = append(p.console, fn)
}

func (p *Page) SetDefaultTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = d
}

func roleKey(scope, role, name string) string {
	return scope + "|" + role + "|" + name
}

// Context is a fake browser.Context that hands out a single page. Stopping
// a trace with a path writes a small placeholder archive there.
type Context struct {
	mu sync.Mutex

	Page       *Page
	PageErr    error
	TraceErr   error
	traceOn    bool
	starts     int
	stopPaths  []string
	closeCount int
}

// NewContext returns a context serving page.
func NewContext(page *Page) *Context {
	return &Context{Page: page}
}

func (c *Context) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.PageErr != nil {
		return nil, c.PageErr
	}
	return c.Page, nil
}

func (c *Context) StartTracing(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TraceErr != nil {
		return c.TraceErr
	}
	c.traceOn = true
	c.starts++
	return nil
}

func (c *Context) StopTracing(_ context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.traceOn {
		return fmt.Errorf("tracing not started")
	}
	c.traceOn = false
	c.stopPaths = append(c.stopPaths, path)
	if path == "" {
		return nil
	}
	return os.WriteFile(path, []byte("PK-trace"), 0o600)
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	return nil
}

// TraceStarts returns how many times tracing was started.
func (c *Context) TraceStarts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts
}

// TraceStops returns the paths passed to StopTracing.
func (c *Context) TraceStops() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.stopPaths...)
}

// Tracing reports whether a trace is currently recording.
func (c *Context) Tracing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.traceOn
}

// Browser is a fake browser.Browser.
type Browser struct {
	mu sync.Mutex

	Context    *Context
	ContextErr error
	opts       []browser.ContextOptions
	closeCount int
}

// NewBrowser returns a browser serving bctx.
func NewBrowser(bctx *Context) *Browser {
	return &Browser{Context: bctx}
}

func (b *Browser) NewContext(ctx context.Context, opts browser.ContextOptions) (browser.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts = append(b.opts, opts)
	if b.ContextErr != nil {
		return nil, b.ContextErr
	}
	return b.Context, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeCount++
	return nil
}

// Closed returns how many times Close was called.
func (b *Browser) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeCount
}

// ContextOptions returns the options of every NewContext call.
func (b *Browser) ContextOptions() []browser.ContextOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]browser.ContextOptions(nil), b.opts...)
}

// Launcher is a fake browser.Launcher.
type Launcher struct {
	mu sync.Mutex

	Browser *Browser
	Err     error
	opts    []browser.LaunchOptions
}

// NewLauncher returns a launcher that always starts b.
func NewLauncher(b *Browser) *Launcher {
	return &Launcher{Browser: b}
}

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.opts = append(l.opts, opts)
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Browser, nil
}

// Launches returns the options of every Launch call.
func (l *Launcher) Launches() []browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.LaunchOptions(nil), l.opts...)
}

var (
	_ browser.Page     = (*Page)(nil)
	_ browser.Context  = (*Context)(nil)
	_ browser.Browser  = (*Browser)(nil)
	_ browser.Launcher = (*Launcher)(nil)
)
