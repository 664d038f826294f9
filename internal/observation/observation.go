// Package observation holds the evidence items a task accumulates while it
// runs: data observations discovered by executed code and rules that later
// steps must obey.
package observation

// Kind classifies an evidence item.
type Kind string

const (
	// KindObservation is a fact derived from execution; later steps may refine it.
	KindObservation Kind = "observation"
	// KindRule is a constraint later steps must obey. Rules are never demoted
	// to observations and never silently dropped during reflection.
	KindRule Kind = "rule"
)

// Source records where an evidence item came from. Priority for conflict
// resolution is spec > user > data.
type Source string

const (
	SourceData Source = "data"
	SourceSpec Source = "spec"
	SourceUser Source = "user"
)

// StepObservation is one atomic evidence item captured from a step.
type StepObservation struct {
	StepNumber int    `json:"step_number"`
	Title      string `json:"title"`
	Summary    string `json:"summary"`
	Kind       Kind   `json:"kind"`
	Source     Source `json:"source"`
	RawOutput  string `json:"raw_output,omitempty"`
	Importance int    `json:"importance"`
	Relevance  int    `json:"relevance"`
}

// Key identifies an observation for dedup purposes.
type Key struct {
	Kind    Kind
	Source  Source
	Title   string
	Summary string
}

// Key returns the dedup identity of the observation.
func (o StepObservation) Key() Key {
	return Key{Kind: o.Kind, Source: o.Source, Title: o.Title, Summary: o.Summary}
}

// Normalized returns a copy with kind, source and scores clamped to their
// valid domains. Unknown kinds become observations; unknown sources become
// data-sourced; scores clamp to [1,5].
func (o StepObservation) Normalized() StepObservation {
	if o.Kind != KindRule {
		o.Kind = KindObservation
	}
	switch o.Source {
	case SourceSpec, SourceUser:
	default:
		o.Source = SourceData
	}
	o.Importance = clampScore(o.Importance)
	o.Relevance = clampScore(o.Relevance)
	return o
}

func clampScore(v int) int {
	if v < 1 {
		return 1
	}
	if v > 5 {
		return 5
	}
	return v
}

// sourceRank orders sources for conflict resolution; higher wins.
func sourceRank(s Source) int {
	switch s {
	case SourceSpec:
		return 3
	case SourceUser:
		return 2
	default:
		return 1
	}
}

// Split partitions observations into rules and data observations, preserving
// input order. Prompts present the two buckets separately so the planner can
// apply conflict resolution.
func Split(obs []StepObservation) (rules, data []StepObservation) {
	for _, o := range obs {
		if o.Kind == KindRule {
			rules = append(rules, o)
		} else {
			data = append(data, o)
		}
	}
	return rules, data
}
