package readiness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/zhouzirui/interview-sim/backend/internal/logging"
	"github.com/zhouzirui/interview-sim/backend/internal/service/ai"
)

// Check names, in the order they run.
const (
	CheckProviderReachable = "chat-provider-reachable"
	CheckModelPresent      = "required-model-present"
	CheckSpeechEngine      = "tts-engine-initializable"
)

// Severity decides what a failed check does to startup.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// CheckResult is one line of a Report.
type CheckResult struct {
	Name     string   `json:"name"`
	OK       bool     `json:"ok"`
	Skipped  bool     `json:"skipped"`
	Detail   string   `json:"detail,omitempty"`
	Severity Severity `json:"severity"`
}

// Report is the outcome of one gate run.
type Report struct {
	Checks          []CheckResult `json:"checks"`
	AvailableModels []string      `json:"available_models,omitempty"`
}

// Fatal reports whether any fatal check failed.
func (r Report) Fatal() bool {
	return r.firstFailure(SeverityFatal) != nil
}

// Degraded reports whether only warning checks failed.
func (r Report) Degraded() bool {
	return !r.Fatal() && r.firstFailure(SeverityWarning) != nil
}

// SpeechAvailable reports whether the speech engine check passed.
func (r Report) SpeechAvailable() bool {
	for _, c := range r.Checks {
		if c.Name == CheckSpeechEngine {
			return c.OK && !c.Skipped
		}
	}
	return false
}

// Err returns a *StartupDependencyError for the first fatal failure.
func (r Report) Err() error {
	failed := r.firstFailure(SeverityFatal)
	if failed == nil {
		return nil
	}
	return &StartupDependencyError{
		Check:           failed.Name,
		Detail:          failed.Detail,
		AvailableModels: r.AvailableModels,
	}
}

func (r Report) firstFailure(sev Severity) *CheckResult {
	for i := range r.Checks {
		if !r.Checks[i].OK && r.Checks[i].Severity == sev {
			return &r.Checks[i]
		}
	}
	return nil
}

// StartupDependencyError means the process must not start serving.
type StartupDependencyError struct {
	Check           string
	Detail          string
	AvailableModels []string
}

func (e *StartupDependencyError) Error() string {
	msg := fmt.Sprintf("startup check %s failed: %s", e.Check, e.Detail)
	if len(e.AvailableModels) > 0 {
		msg += "; available models: " + strings.Join(e.AvailableModels, ", ")
	}
	return msg
}

// SpeechProbe is the part of the speech service the gate needs.
type SpeechProbe interface {
	EngineName() string
	Enabled() bool
	Probe(ctx context.Context) error
}

// Gate verifies external dependencies before the server binds.
type Gate struct {
	backend string
	model   string
	catalog ai.ModelCatalog
	speech  SpeechProbe
	timeout time.Duration
	logger  *slog.Logger
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithTimeout bounds each individual check. Zero means no extra bound.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gate) {
		g.timeout = timeout
	}
}

// NewGate builds a gate for the given provider. A nil catalog marks a backend
// that cannot be probed; its checks are reported as skipped. A nil speech
// probe, or a disabled one, skips the engine check.
func NewGate(backend, model string, catalog ai.ModelCatalog, speech SpeechProbe, opts ...Option) *Gate {
	g := &Gate{
		backend: backend,
		model:   model,
		catalog: catalog,
		speech:  speech,
		timeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = logging.OrNop(g.logger).With("component", "readiness")
	return g
}

// ForClient is a convenience constructor for an ai.Client.
func ForClient(client *ai.Client, speech SpeechProbe, opts ...Option) *Gate {
	return NewGate(client.Backend(), client.ModelName(), client.Catalog(), speech, opts...)
}

// Run executes all checks in order and never returns early; the caller
// decides what to do with the report.
func (g *Gate) Run(ctx context.Context) Report {
	var report Report

	reachable := g.checkProvider(ctx)
	report.Checks = append(report.Checks, reachable)

	switch {
	case g.catalog == nil:
		report.Checks = append(report.Checks, skipped(CheckModelPresent, SeverityFatal,
			fmt.Sprintf("%s backend has no model catalog", g.backend)))
	case !reachable.OK:
		report.Checks = append(report.Checks, CheckResult{
			Name:     CheckModelPresent,
			Skipped:  true,
			Detail:   "provider unreachable",
			Severity: SeverityFatal,
		})
	default:
		result, models := g.checkModel(ctx)
		report.Checks = append(report.Checks, result)
		report.AvailableModels = models
	}

	report.Checks = append(report.Checks, g.checkSpeech(ctx))

	for _, c := range report.Checks {
		attrs := []any{"check", c.Name, "ok", c.OK, "skipped", c.Skipped, "severity", c.Severity}
		if c.Detail != "" {
			attrs = append(attrs, "detail", c.Detail)
		}
		switch {
		case c.OK:
			g.logger.Info("startup check", attrs...)
		case c.Severity == SeverityFatal:
			g.logger.Error("startup check", attrs...)
		default:
			g.logger.Warn("startup check", attrs...)
		}
	}
	return report
}

func (g *Gate) checkProvider(ctx context.Context) CheckResult {
	if g.catalog == nil {
		return skipped(CheckProviderReachable, SeverityFatal,
			fmt.Sprintf("%s backend has no model catalog", g.backend))
	}

	ctx, cancel := g.bound(ctx)
	defer cancel()

	if err := g.catalog.Ping(ctx); err != nil {
		return CheckResult{
			Name:     CheckProviderReachable,
			Detail:   fmt.Sprintf("cannot reach %s: %v", g.backend, err),
			Severity: SeverityFatal,
		}
	}
	return CheckResult{Name: CheckProviderReachable, OK: true, Severity: SeverityFatal}
}

func (g *Gate) checkModel(ctx context.Context) (CheckResult, []string) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	models, err := g.catalog.ListModels(ctx)
	if err != nil {
		return CheckResult{
			Name:     CheckModelPresent,
			Detail:   fmt.Sprintf("list models: %v", err),
			Severity: SeverityFatal,
		}, nil
	}
	if !MatchModel(g.model, models) {
		return CheckResult{
			Name:     CheckModelPresent,
			Detail:   fmt.Sprintf("model %q is not available on %s", g.model, g.backend),
			Severity: SeverityFatal,
		}, models
	}
	return CheckResult{Name: CheckModelPresent, OK: true, Severity: SeverityFatal}, models
}

func (g *Gate) checkSpeech(ctx context.Context) CheckResult {
	if g.speech == nil || !g.speech.Enabled() {
		return skipped(CheckSpeechEngine, SeverityWarning, "speech synthesis disabled")
	}

	ctx, cancel := g.bound(ctx)
	defer cancel()

	if err := g.speech.Probe(ctx); err != nil {
		detail := fmt.Sprintf("%s engine unavailable: %v", g.speech.EngineName(), err)
		if errors.Is(err, context.DeadlineExceeded) {
			detail = fmt.Sprintf("%s engine did not answer in %s", g.speech.EngineName(), g.timeout)
		}
		return CheckResult{Name: CheckSpeechEngine, Detail: detail, Severity: SeverityWarning}
	}
	return CheckResult{Name: CheckSpeechEngine, OK: true, Severity: SeverityWarning}
}

func (g *Gate) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// skipped results count as passed.
func skipped(name string, sev Severity, detail string) CheckResult {
	return CheckResult{Name: name, OK: true, Skipped: true, Detail: detail, Severity: sev}
}
