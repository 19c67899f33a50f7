package types

import "time"

// Dimension is one axis of trust evidence.
type Dimension string

const (
	DimRepoActivity        Dimension = "repo_activity"
	DimContributorQuality  Dimension = "contributor_quality"
	DimWebPresence         Dimension = "web_presence"
	DimReviewSentiment     Dimension = "review_sentiment"
	DimEmployeeCredibility Dimension = "employee_credibility"
)

// AllDimensions lists every dimension a rule set may weight.
var AllDimensions = []Dimension{
	DimRepoActivity,
	DimContributorQuality,
	DimWebPresence,
	DimReviewSentiment,
	DimEmployeeCredibility,
}

// ParseDimension validates a dimension name.
func ParseDimension(s string) (Dimension, bool) {
	d := Dimension(s)
	for _, known := range AllDimensions {
		if d == known {
			return d, true
		}
	}
	return "", false
}

// EvidenceRecord is a single normalized observation from one source for one
// dimension. Records are immutable once created; one record per
// (source, dimension) survives deduplication within a collection round.
type EvidenceRecord struct {
	SourceID   string        `json:"source_id"`
	Dimension  Dimension     `json:"dimension"`
	RawValue   string        `json:"raw_value"`
	Normalized float64       `json:"normalized_score"` // in [0,1]
	Confidence float64       `json:"confidence"`       // in [0,1]
	FetchedAt  time.Time     `json:"fetched_at"`
	Staleness  time.Duration `json:"staleness"`
}

// EvidenceSet is the output of one collection round for one subject.
type EvidenceSet struct {
	RoundID     string           `json:"round_id"`
	Subject     string           `json:"subject"`
	Records     []EvidenceRecord `json:"records"`
	Expected    int              `json:"expected"` // fetches attempted this round
	CollectedAt time.Time        `json:"collected_at"`
}

// Coverage reports the fraction of expected records actually obtained.
func (e EvidenceSet) Coverage() float64 {
	if e.Expected == 0 {
		return 0
	}
	return float64(len(e.Records)) / float64(e.Expected)
}

// DimensionContribution is one dimension's share of the composite score.
type DimensionContribution struct {
	WeightedContribution float64 `json:"weighted_contribution"`
	Confidence           float64 `json:"confidence"`
	Weight               float64 `json:"weight"` // redistributed weight applied
	Sources              int     `json:"sources"`
}

// ScoreBreakdown maps dimension -> its contribution. The weighted
// contributions, scaled to [0,100], sum to the composite score.
type ScoreBreakdown map[Dimension]DimensionContribution

// TrustScore is the immutable result of scoring one evidence set.
type TrustScore struct {
	Subject        string         `json:"subject"`
	Composite      float64        `json:"composite"`  // in [0,100]
	Confidence     float64        `json:"confidence"` // in [0,1]
	Breakdown      ScoreBreakdown `json:"breakdown"`
	RuleSetVersion string         `json:"rule_set_version"`
	LowConfidence  bool           `json:"low_confidence"`
	HighRisk       bool           `json:"high_risk"`
	ComputedAt     time.Time      `json:"computed_at"`
}

// ExecutionMode selects static analysis plus dry run, or a full run.
type ExecutionMode string

const (
	ModeDebug ExecutionMode = "debug"
	ModeRun   ExecutionMode = "run"
)

// ResourceLimits bound one sandboxed execution. Zero values mean
// "use the platform default for this limit".
type ResourceLimits struct {
	CPUMillis      int64 `json:"cpu_ms"`
	MemoryMB       int64 `json:"memory_mb"`
	WallClockMS    int64 `json:"wall_clock_ms"`
	NetworkAllowed bool  `json:"network_allowed"`
}

// ExecutionRequest carries one code artifact into the sandbox.
type ExecutionRequest struct {
	ID       string         `json:"id"`
	Code     string         `json:"code"`
	Language string         `json:"language"`
	Mode     ExecutionMode  `json:"mode"`
	Limits   ResourceLimits `json:"limits"`
}

// ExecStatus is the terminal status of a sandboxed execution.
type ExecStatus string

const (
	StatusSucceeded     ExecStatus = "succeeded"
	StatusFailed        ExecStatus = "failed"
	StatusTimedOut      ExecStatus = "timed_out"
	StatusLimitExceeded ExecStatus = "limit_exceeded"
	StatusSandboxError  ExecStatus = "sandbox_error"
)

// Severity grades a diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is one static or runtime finding, anchored to a source line.
type Diagnostic struct {
	Line     int      `json:"line"`
	Column   int      `json:"column,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Origin   string   `json:"origin"` // "static" or "runtime"
}

// ExecutionResult captures everything the sandbox observed. The sandbox
// always returns one, whatever happened inside.
type ExecutionResult struct {
	ID              string       `json:"id"`
	Status          ExecStatus   `json:"status"`
	Stdout          string       `json:"stdout"`
	Stderr          string       `json:"stderr"`
	StdoutTruncated bool         `json:"stdout_truncated,omitempty"`
	StderrTruncated bool         `json:"stderr_truncated,omitempty"`
	ExitCode        int          `json:"exit_code"`
	DurationMS      int64        `json:"duration_ms"`
	Diagnostics     []Diagnostic `json:"diagnostics,omitempty"`
}

// ScoreRequest is the request body for the score endpoint.
type ScoreRequest struct {
	Subject    string   `json:"subject" binding:"required"`
	Dimensions []string `json:"dimensions,omitempty"`
	RuleSet    string   `json:"rule_set,omitempty"`
}

// DebugRequest is the request body for the debug endpoint.
type DebugRequest struct {
	Code     string `json:"code" binding:"required"`
	Language string `json:"language,omitempty"`
}

// RunRequest is the request body for the run endpoint.
type RunRequest struct {
	Code     string          `json:"code" binding:"required"`
	Language string          `json:"language,omitempty"`
	Limits   *ResourceLimits `json:"limits,omitempty"`
}
