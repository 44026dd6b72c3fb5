// Package resolver merges NER and pattern-detector candidates into one
// conflict-free, threshold-filtered entity set.
//
// Resolution runs as a fixed sequence of stages:
//
//	sanitize -> non-core pass-through -> PERSON -> PHONE_NUMBER ->
//	ID/DATE_TIME/LOCATION/ORGANIZATION -> POSTAL_CODE/ADDRESS_NUMBER ->
//	DATE_TIME time extension -> dedup
//
// Each core sub-category tracks its own accepted spans; a candidate that
// overlaps an accepted span of the same sub-category by more than the overlap
// limit is dropped. Sub-categories never suppress each other. The output order
// is the stage order above and is stable for identical input.
package resolver

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/raaihank/phi-sentinel/internal/phi"
)

// Stats counts what happened to the candidates of one Resolve call
type Stats struct {
	Candidates     int `json:"candidates"`
	Malformed      int `json:"malformed"`
	Realigned      int `json:"realigned"`
	Blacklisted    int `json:"blacklisted"`
	BelowThreshold int `json:"below_threshold"`
	Filtered       int `json:"filtered"`
	Overlapping    int `json:"overlapping"`
	Duplicates     int `json:"duplicates"`
	Extended       int `json:"extended"`
	Resolved       int `json:"resolved"`
}

// Result is the resolved entity set for one text
type Result struct {
	Entities []phi.Entity
	Stats    Stats
}

// Resolver applies a fixed Policy. It holds no per-call state and is safe for
// concurrent use.
type Resolver struct {
	rules  *rules
	logger *zap.Logger
}

// New validates the policy and compiles its word lists
func New(policy Policy, log *zap.Logger) (*Resolver, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid resolver policy: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{rules: compile(policy), logger: log}, nil
}

// Policy returns the policy the resolver was built with
func (r *Resolver) Policy() Policy {
	return r.rules.policy
}

// Resolve turns raw candidates over text into the resolved entity set.
// Malformed candidates are skipped and counted, never returned as errors.
func (r *Resolver) Resolve(text string, candidates []phi.Candidate) Result {
	st := Stats{Candidates: len(candidates)}

	clean := sanitize(text, candidates, &st)

	var merged []phi.Entity
	merged = append(merged, r.rules.passThrough(clean, &st)...)
	merged = append(merged, r.rules.persons(text, clean, &st)...)
	merged = append(merged, r.rules.phones(clean, &st)...)
	merged = append(merged, r.rules.general(clean, &st)...)
	merged = append(merged, r.rules.addresses(clean, &st)...)

	merged = r.rules.extendDateTimes(text, merged, &st)
	entities := dedup(merged, &st)
	st.Resolved = len(entities)

	r.logger.Debug("Candidates resolved",
		zap.Int("candidates", st.Candidates),
		zap.Int("resolved", st.Resolved),
		zap.Int("malformed", st.Malformed),
		zap.Int("below_threshold", st.BelowThreshold),
		zap.Int("filtered", st.Filtered),
		zap.Int("overlapping", st.Overlapping),
		zap.Int("duplicates", st.Duplicates),
	)

	return Result{Entities: entities, Stats: st}
}
