package observation

// Store tracks the evidence of one task: the observations captured for the
// step in flight, and the consolidated world set produced by reflection.
// The workflow engine drives a task on a single goroutine, so the store
// needs no locking; it exists to centralize the merge contract.
type Store struct {
	current []StepObservation
	world   []StepObservation
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// AppendCurrent adds observations for the step in flight, preserving input
// order. Items are normalized on the way in.
func (s *Store) AppendCurrent(obs []StepObservation) {
	for _, o := range obs {
		s.current = append(s.current, o.Normalized())
	}
}

// Snapshot returns a copy of the current-step observations suitable for
// archiving into a completed step.
func (s *Store) Snapshot() []StepObservation {
	out := make([]StepObservation, len(s.current))
	copy(out, s.current)
	return out
}

// Reset clears the current-step observations when a step closes.
func (s *Store) Reset() {
	s.current = nil
}

// World returns a copy of the consolidated world observations.
func (s *Store) World() []StepObservation {
	out := make([]StepObservation, len(s.world))
	copy(out, s.world)
	return out
}

// ApplyReflection replaces the world set with the merged list proposed by
// the reflection node, after enforcing the merge contract:
//
//   - duplicate (kind, source, title, summary) items collapse to one;
//   - on collapse, higher step_number wins; source priority spec > user > data
//     breaks title/summary collisions across sources;
//   - rules present in the previous world or the current step are never
//     dropped or demoted, whatever the proposal says;
//   - observations with importance <= 2 and relevance <= 2 may be dropped by
//     the proposal, so absence of such items is not repaired.
//
// The resulting list atomically becomes the new world set.
func (s *Store) ApplyReflection(proposed []StepObservation) []StepObservation {
	merged := dedup(proposed)

	// Re-add any rule the proposal lost. Demotion to kind=observation does
	// not count as keeping the rule.
	have := make(map[Key]bool, len(merged))
	for _, o := range merged {
		have[o.Key()] = true
	}
	for _, o := range append(s.World(), s.Snapshot()...) {
		o = o.Normalized()
		if o.Kind != KindRule {
			continue
		}
		if !have[o.Key()] {
			merged = append(merged, o)
			have[o.Key()] = true
		}
	}

	s.world = merged
	return s.World()
}

// dedup collapses duplicates, preserving first-seen order. Exact key
// duplicates keep the higher step number. Items sharing title+summary but
// differing in source keep the higher-priority source; ties on source rank
// fall to the higher step number.
func dedup(obs []StepObservation) []StepObservation {
	type slot struct {
		index int
		obs   StepObservation
	}
	byTitle := make(map[string]*slot, len(obs))
	out := make([]StepObservation, 0, len(obs))

	for _, raw := range obs {
		o := raw.Normalized()
		tk := string(o.Kind) + "\x00" + o.Title + "\x00" + o.Summary
		existing, ok := byTitle[tk]
		if !ok {
			out = append(out, o)
			byTitle[tk] = &slot{index: len(out) - 1, obs: o}
			continue
		}
		if wins(o, existing.obs) {
			existing.obs = o
			out[existing.index] = o
		}
	}
	return out
}

func wins(candidate, incumbent StepObservation) bool {
	cr, ir := sourceRank(candidate.Source), sourceRank(incumbent.Source)
	if cr != ir {
		return cr > ir
	}
	return candidate.StepNumber > incumbent.StepNumber
}
