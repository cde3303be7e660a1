package model

import "time"

// RunState tracks the orchestrator's progress through a run.
type RunState string

const (
	StateInit       RunState = "init"
	StateResolving  RunState = "resolving"
	StateGenerating RunState = "generating"
	StatePersisted  RunState = "persisted"
	StateDone       RunState = "done"
)

// Stage names used in failure entries.
const (
	StageResolve  = "resolve"
	StageGenerate = "generate"
	StagePersist  = "persist"
)

// CenterFailure records one per-center failure without aborting the run.
type CenterFailure struct {
	Identity Identity `json:"identity"`
	Stage    string   `json:"stage"`
	Reason   string   `json:"reason"`
}

// Manifest is the end-of-run summary handed to the map-assembly stage:
// every center identity that produced stored isochrones, and every failure
// with enough detail for manual correction and re-run.
type Manifest struct {
	RunID      string          `json:"run_id"`
	Mode       string          `json:"mode"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Succeeded  []Identity      `json:"succeeded"`
	Failed     []CenterFailure `json:"failed"`
}

// AddFailure records a failure entry. A center keeps its first failure only;
// later stages cannot have run for it, so a second entry would just repeat
// the same root cause.
func (m *Manifest) AddFailure(id Identity, stage, reason string) {
	if m.HasFailed(id) {
		return
	}
	m.Failed = append(m.Failed, CenterFailure{Identity: id, Stage: stage, Reason: reason})
}

// HasFailed reports whether the given identity already has a failure entry.
func (m *Manifest) HasFailed(id Identity) bool {
	for _, f := range m.Failed {
		if f.Identity == id {
			return true
		}
	}
	return false
}
