package config

import (
	"encoding/binary"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/zoobzio/activityz"
)

// RuleSampler registers one listener per sampling rule and swaps them on
// Reload.
type RuleSampler struct {
	logger    *zap.Logger
	listeners []*activityz.ActivityListener
	mu        sync.Mutex
}

// NewRuleSampler registers listeners for rules. A nil logger is replaced
// with a no-op one.
func NewRuleSampler(rules []Rule, logger *zap.Logger) *RuleSampler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RuleSampler{logger: logger}
	s.Reload(rules)
	return s
}

// Reload registers listeners for rules and then closes the previous ones, so
// sources are never left without a vote in between.
func (s *RuleSampler) Reload(rules []Rule) {
	next := make([]*activityz.ActivityListener, 0, len(rules))
	for _, r := range rules {
		next = append(next, newRuleListener(r))
	}
	for _, l := range next {
		activityz.AddActivityListener(l)
	}

	s.mu.Lock()
	prev := s.listeners
	s.listeners = next
	s.mu.Unlock()

	for _, l := range prev {
		l.Close()
	}
	s.logger.Info("sampling rules loaded", zap.Int("rules", len(rules)))
}

// Len returns the number of registered rule listeners.
func (s *RuleSampler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Close unregisters every rule listener.
func (s *RuleSampler) Close() {
	s.mu.Lock()
	prev := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, l := range prev {
		l.Close()
	}
}

func newRuleListener(r Rule) *activityz.ActivityListener {
	result := r.SamplingResult()
	ops := slices.Clone(r.Operations)
	bound := ratioBound(r.Ratio)

	matches := func(name string) bool {
		return len(ops) == 0 || slices.Contains(ops, name)
	}

	return &activityz.ActivityListener{
		SourceName: r.Source,
		Sample: func(o *activityz.ActivityCreationOptions[activityz.ActivityContext]) activityz.SamplingResult {
			if !matches(o.Name) {
				return activityz.SamplingNone
			}
			if r.RespectParent && o.Parent.IsValid() {
				return fromParentFlags(o.Parent)
			}
			if bound < fullBound && !traceIDBelow(o.TraceID(), bound) {
				return activityz.SamplingNone
			}
			return result
		},
		SampleUsingParentID: func(o *activityz.ActivityCreationOptions[string]) activityz.SamplingResult {
			if !matches(o.Name) {
				return activityz.SamplingNone
			}
			parent := o.ParentContext()
			if r.RespectParent && parent.IsValid() {
				return fromParentFlags(parent)
			}
			if bound < fullBound {
				if parent.IsValid() {
					if !traceIDBelow(parent.TraceID, bound) {
						return activityz.SamplingNone
					}
				} else if xxhash.Sum64String(rootOf(o.Parent))>>1 >= bound {
					return activityz.SamplingNone
				}
			}
			return result
		},
	}
}

func fromParentFlags(parent activityz.ActivityContext) activityz.SamplingResult {
	if parent.TraceFlags.IsRecorded() {
		return activityz.SamplingAllDataAndRecorded
	}
	if parent.IsRemote {
		return activityz.SamplingNone
	}
	return activityz.SamplingPropagationData
}

// fullBound marks a ratio of 1: every trace is below it.
const fullBound = uint64(1) << 63

// ratioBound maps ratio onto [0, 2^63] for comparison with 63 bit hashes.
func ratioBound(ratio float64) uint64 {
	if ratio >= 1 {
		return fullBound
	}
	if ratio <= 0 {
		return 0
	}
	return uint64(ratio * float64(fullBound))
}

// traceIDBelow compares the low 63 bits of the trace id with bound, the same
// decision every process makes for the same trace.
func traceIDBelow(id activityz.TraceID, bound uint64) bool {
	if !id.IsValid() {
		return true
	}
	return binary.BigEndian.Uint64(id[8:16])>>1 < bound
}

// rootOf returns the root segment of a hierarchical id: the text between a
// leading '|' and the first '.'.
func rootOf(id string) string {
	start := 0
	if len(id) > 0 && id[0] == '|' {
		start = 1
	}
	for i := start; i < len(id); i++ {
		if id[i] == '.' || id[i] == '_' {
			return id[start:i]
		}
	}
	return id[start:]
}
