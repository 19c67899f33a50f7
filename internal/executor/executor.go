package executor

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/spectrascout/trustcore/internal/errors"
	"github.com/spectrascout/trustcore/internal/monitoring"
	"github.com/spectrascout/trustcore/internal/sandbox"
	"github.com/spectrascout/trustcore/internal/types"
)

// DefaultLanguage is assumed when a request omits the language field.
const DefaultLanguage = "python"

// maxCodeBytes bounds submitted artifacts before they reach the sandbox.
const maxCodeBytes = 256 * 1024

// Orchestrator fronts the sandbox with the two execution workflows: Debug
// (static checks plus a constrained dry run, aggregated into line-sorted
// diagnostics) and Run (full execution under caller limits).
type Orchestrator struct {
	sandbox   *sandbox.Sandbox
	checkers  map[string]StaticChecker
	fallback  StaticChecker
	languages map[string]bool
	logger    *monitoring.Logger
}

// NewOrchestrator wires an orchestrator over the given sandbox.
func NewOrchestrator(sb *sandbox.Sandbox, logger *monitoring.Logger) *Orchestrator {
	languages := make(map[string]bool)
	for _, lang := range sb.Languages() {
		languages[lang] = true
	}

	return &Orchestrator{
		sandbox: sb,
		checkers: map[string]StaticChecker{
			"go": GoChecker{},
		},
		fallback:  LexicalChecker{},
		languages: languages,
		logger:    logger,
	}
}

// Debug statically checks the artifact, dry-runs it in the sandbox under
// debug limits (network off, short timeout), and returns the execution
// result with all diagnostics merged and sorted by line. Submitting the
// same artifact twice yields the same diagnostics.
func (o *Orchestrator) Debug(ctx context.Context, code, language string) (types.ExecutionResult, error) {
	language, err := o.validate(code, language)
	if err != nil {
		return types.ExecutionResult{}, err
	}

	checker, ok := o.checkers[language]
	if !ok {
		checker = o.fallback
	}
	static := checker.Check(code)

	result := o.sandbox.Execute(ctx, types.ExecutionRequest{
		Code:     code,
		Language: language,
		Mode:     types.ModeDebug,
	})

	runtime := parseRuntimeDiagnostics(result.Stderr, result.ExitCode)
	result.Diagnostics = mergeDiagnostics(static, runtime)

	if o.logger != nil {
		o.logger.ExecutionLogger(result.ID, language, string(types.ModeDebug), string(result.Status),
			result.ExitCode, time.Duration(result.DurationMS)*time.Millisecond)
	}

	return result, nil
}

// Run executes the artifact with the caller's resource limits; zero-valued
// fields fall back to the sandbox defaults. The result is always structured,
// whatever the artifact did.
func (o *Orchestrator) Run(ctx context.Context, code, language string, limits types.ResourceLimits) (types.ExecutionResult, error) {
	language, err := o.validate(code, language)
	if err != nil {
		return types.ExecutionResult{}, err
	}

	result := o.sandbox.Execute(ctx, types.ExecutionRequest{
		Code:     code,
		Language: language,
		Mode:     types.ModeRun,
		Limits:   limits,
	})

	if o.logger != nil {
		o.logger.ExecutionLogger(result.ID, language, string(types.ModeRun), string(result.Status),
			result.ExitCode, time.Duration(result.DurationMS)*time.Millisecond)
	}

	return result, nil
}

func (o *Orchestrator) validate(code, language string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return "", errors.NewValidationError("code must not be empty")
	}
	if len(code) > maxCodeBytes {
		return "", errors.NewValidationError("code exceeds maximum size")
	}

	if language == "" {
		language = DefaultLanguage
	} else {
		language = strings.ToLower(language)
	}
	if !o.languages[language] {
		return "", errors.NewValidationError("unsupported language: " + language)
	}
	return language, nil
}

// mergeDiagnostics combines static and runtime findings into one list
// ordered by line, then column, with static findings first on ties.
func mergeDiagnostics(static, runtime []types.Diagnostic) []types.Diagnostic {
	merged := make([]types.Diagnostic, 0, len(static)+len(runtime))
	merged = append(merged, static...)
	merged = append(merged, runtime...)

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Line != merged[j].Line {
			return merged[i].Line < merged[j].Line
		}
		if merged[i].Column != merged[j].Column {
			return merged[i].Column < merged[j].Column
		}
		return merged[i].Origin < merged[j].Origin
	})

	return merged
}
