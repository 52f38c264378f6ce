// Package browser is the narrow surface of a headless browser the capture bot
// drives: page navigation and input, script injection, Go bindings callable
// from the page, and context-level tracing.
//
// The playwright adapter in this package is the production implementation;
// tests drive platform strategies and capture sessions with fakes.
package browser

import (
	"context"
	"time"
)

// WaitState is the element state a selector wait blocks for.
type WaitState string

const (
	StateAttached WaitState = "attached"
	StateVisible  WaitState = "visible"
)

// Binding is a Go function exposed to the page under a window-level name.
// Arguments arrive JSON-decoded.
type Binding func(args ...any) any

// ConsoleMessage is one message written to the page console.
type ConsoleMessage struct {
	Type string
	Text string
}

// Page is a single browser tab.
type Page interface {
	Goto(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	WaitFor(ctx context.Context, selector string, state WaitState, timeout time.Duration) error
	Evaluate(ctx context.Context, expression string) (any, error)
	AddInitScript(ctx context.Context, script string) error
	Attribute(ctx context.Context, selector, name string, timeout time.Duration) (string, error)

	// RoleCount and ClickRole address elements by ARIA role and accessible
	// name, optionally scoped under a CSS selector (empty scope means the page).
	RoleCount(ctx context.Context, scope, role, name string) (int, error)
	ClickRole(ctx context.Context, scope, role, name string) error

	Expose(name string, fn Binding) error
	OnConsole(fn func(ConsoleMessage))
	SetDefaultTimeout(d time.Duration)
}

// Context is an isolated browser profile owning its pages.
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	StartTracing(ctx context.Context) error
	// StopTracing ends the trace and writes it to path. An empty path
	// discards the recording.
	StopTracing(ctx context.Context, path string) error
	Close() error
}

// ContextOptions configures a new browser context.
type ContextOptions struct {
	Permissions []string
}

// Browser is a running browser process.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (Context, error)
	Close() error
}

// LaunchOptions configures a browser process.
type LaunchOptions struct {
	Headless bool
	Args     []string
}

// Launcher starts browser processes.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// FakeMediaArgs make the browser grant and synthesize microphone and camera
// devices without prompting.
var FakeMediaArgs = []string{
	"--use-fake-device-for-media-stream",
	"--use-fake-ui-for-media-stream",
}

// MediaPermissions are granted to every capture context.
var MediaPermissions = []string{"microphone", "camera"}
