package scoring

import (
	"fmt"
	"math"
	"sync"

	"github.com/spectrascout/trustcore/internal/types"
)

// DefaultRuleSetVersion is applied when the caller does not pin a version.
const DefaultRuleSetVersion = "v1"

// RuleSet is one versioned, immutable set of dimension weights. Weights sum
// to 1.0 across the full dimension set; scoring redistributes them when a
// dimension is absent from the evidence.
type RuleSet struct {
	Version string
	Weights map[types.Dimension]float64
}

// Validate checks the weight invariants.
func (r RuleSet) Validate() error {
	sum := 0.0
	for dim, w := range r.Weights {
		if w < 0 {
			return fmt.Errorf("rule set %s: negative weight for %s", r.Version, dim)
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("rule set %s: weights sum to %.6f, want 1.0", r.Version, sum)
	}
	return nil
}

// RuleSetRegistry holds every known rule set by version.
type RuleSetRegistry struct {
	mu   sync.RWMutex
	sets map[string]RuleSet
}

// NewRuleSetRegistry creates a registry seeded with the built-in rule sets.
func NewRuleSetRegistry() *RuleSetRegistry {
	r := &RuleSetRegistry{sets: make(map[string]RuleSet)}

	// v1 mirrors the vetting rubric's emphasis: repository and contributor
	// evidence dominate, employee credibility acts as a modifier.
	r.sets["v1"] = RuleSet{
		Version: "v1",
		Weights: map[types.Dimension]float64{
			types.DimRepoActivity:        0.30,
			types.DimContributorQuality:  0.25,
			types.DimWebPresence:         0.20,
			types.DimReviewSentiment:     0.15,
			types.DimEmployeeCredibility: 0.10,
		},
	}

	return r
}

// Register adds or replaces a rule set after validating it.
func (r *RuleSetRegistry) Register(set RuleSet) error {
	if err := set.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[set.Version] = set
	return nil
}

// Get returns the rule set for a version.
func (r *RuleSetRegistry) Get(version string) (RuleSet, error) {
	if version == "" {
		version = DefaultRuleSetVersion
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sets[version]
	if !ok {
		return RuleSet{}, fmt.Errorf("unknown rule set version %q", version)
	}
	return set, nil
}

// Versions lists registered versions.
func (r *RuleSetRegistry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.sets))
	for v := range r.sets {
		out = append(out, v)
	}
	return out
}
