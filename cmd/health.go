package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/meetcap/config"
	"github.com/otherjamesbrown/meetcap/pkg/blob"
	"github.com/otherjamesbrown/meetcap/pkg/db"
	"github.com/otherjamesbrown/meetcap/pkg/logging"
)

// HealthResult holds the outcome of the dependency checks.
type HealthResult struct {
	Passed   bool          `json:"passed" yaml:"passed"`
	Message  string        `json:"message" yaml:"message"`
	Failures []string      `json:"failures,omitempty" yaml:"failures,omitempty"`
	Warnings []string      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Checks   []HealthCheck `json:"checks" yaml:"checks"`
}

// HealthCheck is the status of a single dependency.
type HealthCheck struct {
	Name      string `json:"name" yaml:"name"`
	Status    string `json:"status" yaml:"status"`
	LatencyMs int64  `json:"latency_ms,omitempty" yaml:"latency_ms,omitempty"`
	Critical  bool   `json:"critical,omitempty" yaml:"critical,omitempty"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// probe checks one dependency.
type probe struct {
	name     string
	critical bool
	run      func(ctx context.Context) error
}

var (
	healthTimeout time.Duration
	healthOutput  string
)

// NewHealthCommand creates the health command.
func NewHealthCommand(deps *CommandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the services a worker depends on",
		Long: `Check that the services a capture worker depends on are reachable.

Checks performed:
  database  PostgreSQL ping [critical]
  blob      object store bucket exists [critical]
  redis     ping; critical in local mode where it carries job dispatch
  core      core service reachable (http mode only)

The command fails when any critical check fails, so it can gate a deployment
or a Kubernetes init container.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd.Context(), deps)
		},
	}

	cmd.Flags().DurationVar(&healthTimeout, "timeout", 5*time.Second, "Timeout for each check")
	cmd.Flags().StringVarP(&healthOutput, "output", "o", "", "Output format: text, json, yaml")

	return cmd
}

func runHealth(ctx context.Context, deps *CommandDeps) error {
	format, err := parseOutputFormat(healthOutput)
	if err != nil {
		return err
	}
	cfg, err := deps.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	result := runChecks(ctx, healthProbes(cfg), healthTimeout)

	out := deps.out()
	if done, err := encode(out, format, result); err != nil {
		return err
	} else if !done {
		outputHealthText(out, result)
	}

	if !result.Passed {
		return fmt.Errorf("health check failed: %d critical failure(s)", len(result.Failures))
	}
	return nil
}

// healthProbes builds the checks that apply to cfg.
func healthProbes(cfg *config.Config) []probe {
	probes := []probe{
		{name: "database", critical: true, run: func(ctx context.Context) error {
			pool, err := db.Connect(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()
			if status := db.Check(ctx, pool); !status.Healthy {
				return status.Error
			}
			return nil
		}},
		{name: "blob", critical: true, run: func(ctx context.Context) error {
			store, err := blob.NewMinioStore(cfg.Blob, logging.NewNopLogger())
			if err != nil {
				return err
			}
			return store.Ping(ctx)
		}},
	}

	if cfg.Redis.Addr != "" {
		probes = append(probes, probe{name: "redis", critical: cfg.Core.Mode == config.ModeLocal, run: func(ctx context.Context) error {
			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			defer rdb.Close()
			return rdb.Ping(ctx).Err()
		}})
	}

	if cfg.Core.Mode == config.ModeHTTP {
		probes = append(probes, probe{name: "core", run: func(ctx context.Context) error {
			return checkHTTPReachable(ctx, cfg.Core.BaseURL)
		}})
	}

	return probes
}

// checkHTTPReachable succeeds on any answer below 500.
func checkHTTPReachable(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// runChecks runs each probe under its own timeout.
func runChecks(ctx context.Context, probes []probe, timeout time.Duration) HealthResult {
	result := HealthResult{
		Passed:  true,
		Message: "All critical services healthy",
		Checks:  make([]HealthCheck, 0, len(probes)),
	}

	for _, p := range probes {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		err := p.run(pctx)
		latency := time.Since(start)
		cancel()

		check := HealthCheck{Name: p.name, Status: "healthy", LatencyMs: latency.Milliseconds(), Critical: p.critical}
		if err != nil {
			check.Status = "unreachable"
			check.Error = err.Error()
			if p.critical {
				result.Passed = false
				result.Message = "Health check failed"
				result.Failures = append(result.Failures, fmt.Sprintf("%s: %v [critical]", p.name, err))
			} else {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s: %v", p.name, err))
			}
		}
		result.Checks = append(result.Checks, check)
	}

	return result
}

// outputHealthText outputs results in human-readable format.
func outputHealthText(w io.Writer, result HealthResult) {
	statusStr := "\033[32mPASS\033[0m"
	if !result.Passed {
		statusStr = "\033[31mFAIL\033[0m"
	}
	fmt.Fprintf(w, "Health Check: %s\n", statusStr)

	for _, check := range result.Checks {
		status := "\033[32mhealthy\033[0m"
		if check.Status != "healthy" {
			status = "\033[31m" + check.Status + "\033[0m"
		}

		latencyStr := ""
		if check.LatencyMs > 0 {
			latencyStr = fmt.Sprintf(" (%dms)", check.LatencyMs)
		}

		criticalStr := ""
		if check.Critical {
			criticalStr = " [critical]"
		}

		fmt.Fprintf(w, "  %-10s %s%s%s\n", check.Name+":", status, latencyStr, criticalStr)
	}

	if len(result.Warnings) > 0 {
		fmt.Fprintln(w)
		for _, warning := range result.Warnings {
			fmt.Fprintf(w, "\033[33m!\033[0m  %s\n", warning)
		}
	}
	if len(result.Failures) > 0 {
		fmt.Fprintln(w)
		for _, failure := range result.Failures {
			fmt.Fprintf(w, "\033[31mx\033[0m  %s\n", failure)
		}
	}
}
