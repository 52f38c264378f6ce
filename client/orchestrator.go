// Package client talks to the core meeting service that owns the lifecycle
// when the worker does not run it in process.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/otherjamesbrown/meetcap/pkg/buildinfo"
	mcerrors "github.com/otherjamesbrown/meetcap/pkg/errors"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
	"github.com/otherjamesbrown/meetcap/pkg/meeting"
)

// OwnerHeader carries the keycloak id of the user the worker acts for.
const OwnerHeader = "X-User-Keycloak-UUID"

// Default request settings.
const (
	DefaultRequestTimeout    = 15 * time.Second
	DefaultMaxRetries        = 3
	DefaultInitialBackoff    = 200 * time.Millisecond
	DefaultMaxBackoff        = 5 * time.Second
	DefaultBackoffMultiplier = 2.0
)

// Options configures the Orchestrator client.
type Options struct {
	// RequestTimeout bounds a single HTTP attempt.
	RequestTimeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64

	// UserAgent is sent with every request when set.
	UserAgent string

	// HTTPClient overrides the transport, mostly for tests.
	HTTPClient *http.Client
}

// DefaultOptions returns Options with default values.
func DefaultOptions() *Options {
	return &Options{
		RequestTimeout:    DefaultRequestTimeout,
		MaxRetries:        DefaultMaxRetries,
		InitialBackoff:    DefaultInitialBackoff,
		MaxBackoff:        DefaultMaxBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
		UserAgent:         buildinfo.UserAgent("meetcap-worker"),
	}
}

// StatusError is a non-2xx answer from the core service.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("POST %s returned %d: %s", e.Path, e.StatusCode, e.Body)
}

// Unwrap maps well-known statuses onto domain errors.
func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return mcerrors.ErrNotFound
	case http.StatusConflict:
		return mcerrors.ErrInvalidState
	case http.StatusUnauthorized, http.StatusForbidden:
		return mcerrors.ErrUnauthorized
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return mcerrors.ErrValidation
	}
	return nil
}

func (e *StatusError) retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Orchestrator reports capture transitions to the core service over HTTP.
// Every call acts on behalf of the meeting owner attached to the context
// with meeting.ContextWithOwner.
type Orchestrator struct {
	baseURL *url.URL
	http    *http.Client
	options *Options
	logger  logging.Logger
}

// NewOrchestrator returns a client for the core service at baseURL.
func NewOrchestrator(baseURL string, opts *Options, logger logging.Logger) (*Orchestrator, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid core base url %q", mcerrors.ErrValidation, baseURL)
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.BackoffMultiplier < 1 {
		opts.BackoffMultiplier = DefaultBackoffMultiplier
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.RequestTimeout}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Orchestrator{
		baseURL: u,
		http:    hc,
		options: opts,
		logger:  logger.With(logging.F("component", "orchestrator_client")),
	}, nil
}

func (o *Orchestrator) StartCaptureBot(ctx context.Context, meetingID int64) error {
	return o.post(ctx, meetingID, "capture/bot/start")
}

func (o *Orchestrator) EndCapture(ctx context.Context, meetingID int64) error {
	return o.post(ctx, meetingID, "capture/stop")
}

func (o *Orchestrator) FailCaptureBot(ctx context.Context, meetingID int64) error {
	return o.post(ctx, meetingID, "capture/bot/fail")
}

func (o *Orchestrator) FailCapture(ctx context.Context, meetingID int64) error {
	return o.post(ctx, meetingID, "capture/fail")
}

func (o *Orchestrator) InitTranscription(ctx context.Context, meetingID int64) error {
	return o.post(ctx, meetingID, "transcription/init")
}

func (o *Orchestrator) post(ctx context.Context, meetingID int64, action string) error {
	owner, ok := meeting.OwnerFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no meeting owner in context for %s", mcerrors.ErrValidation, action)
	}
	path := fmt.Sprintf("%s/api/meetings/%d/%s", o.baseURL.Path, meetingID, action)
	endpoint := o.baseURL.ResolveReference(&url.URL{Path: path}).String()

	attempts := 0
	err := o.WithRetry(ctx, func() error {
		attempts++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set(OwnerHeader, owner.KeycloakUUID.String())
		if o.options.UserAgent != "" {
			req.Header.Set("User-Agent", o.options.UserAgent)
		}

		resp, err := o.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}

		// Retries only follow attempts whose outcome is unknown. A conflict
		// then means the earlier attempt committed before its answer was lost.
		if attempts > 1 && resp.StatusCode == http.StatusConflict {
			o.logger.Warn("Transition already applied by an earlier attempt",
				logging.MeetingID(meetingID),
				logging.F("action", action),
				logging.F("attempts", attempts))
			return nil
		}
		return statusErr
	})
	if err != nil {
		return fmt.Errorf("failed to %s meeting %d: %w", strings.ReplaceAll(action, "/", " "), meetingID, err)
	}

	o.logger.Debug("Reported transition", logging.MeetingID(meetingID), logging.F("action", action))
	return nil
}

// WithRetry executes fn with exponential backoff. Client errors (4xx other
// than 429) are returned immediately.
func (o *Orchestrator) WithRetry(ctx context.Context, fn func() error) error {
	backoff := o.options.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= o.options.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && !statusErr.retryable() {
			return err
		}
		if attempt == o.options.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation cancelled during backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * o.options.BackoffMultiplier)
		if backoff > o.options.MaxBackoff {
			backoff = o.options.MaxBackoff
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", o.options.MaxRetries+1, lastErr)
}
