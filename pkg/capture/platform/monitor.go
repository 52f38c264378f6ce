package platform

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/otherjamesbrown/meetcap/pkg/capture/browser"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// comuCountScript reads the participant badge, which renders its number
// inside a shadow root.
const comuCountScript = `(() => {
  const badge = document.querySelector('[data-test="participants-button"] mdc-badge');
  if (!badge || !badge.shadowRoot) return null;
  return badge.shadowRoot.textContent.trim();
})()`

// ComuMonitor reads the COMU participant badge.
type ComuMonitor struct {
	logger logging.Logger
}

func NewComuMonitor(logger logging.Logger) *ComuMonitor {
	return &ComuMonitor{logger: logger}
}

func (m *ComuMonitor) ParticipantCount(ctx context.Context, page browser.Page) (int, bool) {
	return reportCount(m.logger, "comu", func() (int, error) {
		v, err := page.Evaluate(ctx, comuCountScript)
		if err != nil {
			return 0, err
		}
		s, ok := v.(string)
		if !ok {
			return 0, fmt.Errorf("participant badge not rendered")
		}
		return parseCount(s)
	})
}

// WebinaireMonitor reads the webinar users counter attribute.
type WebinaireMonitor struct {
	logger  logging.Logger
	timeout time.Duration
}

func NewWebinaireMonitor(t Timings, logger logging.Logger) *WebinaireMonitor {
	return &WebinaireMonitor{logger: logger, timeout: t.withDefaults().CounterTimeout}
}

func (m *WebinaireMonitor) ParticipantCount(ctx context.Context, page browser.Page) (int, bool) {
	return reportCount(m.logger, "webinaire", func() (int, error) {
		v, err := page.Attribute(ctx, "[data-test-users-count]", "data-test-users-count", m.timeout)
		if err != nil {
			return 0, err
		}
		return parseCount(v)
	})
}

// UnknownCount is the monitor of platforms that expose no participant count.
type UnknownCount struct{}

func (UnknownCount) ParticipantCount(context.Context, browser.Page) (int, bool) {
	return 0, false
}

func reportCount(logger logging.Logger, platform string, read func() (int, error)) (int, bool) {
	n, err := read()
	if err != nil {
		if logger != nil {
			logger.Warn("Failed to read participant count", logging.Err(err), logging.F("platform", platform))
		}
		return 0, false
	}
	return n, true
}

func parseCount(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty participant count")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("participant count %q is not a number", s)
		}
	}
	return strconv.Atoi(s)
}
