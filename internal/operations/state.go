package operations

import (
	"time"
)

// State is the controller lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateTraining State = "training"
	StateError    State = "error"
)

// Busy reports whether work is in flight in this state.
func (s State) Busy() bool {
	return s == StateRunning || s == StateTraining
}

// StageID identifies a pipeline stage.
type StageID string

const (
	StageLoad     StageID = "load"
	StageClean    StageID = "clean"
	StageValidate StageID = "validate"
	StageAnalyze  StageID = "analyze"
	StageFineTune StageID = "fine_tune"
	StageReport   StageID = "report"
)

// StageStatus represents the current status of a stage
type StageStatus string

const (
	StageStatusPending   StageStatus = "pending"
	StageStatusActive    StageStatus = "active"
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// StageState is the runtime state of one stage within a run.
type StageState struct {
	ID        StageID     `json:"id"`
	Status    StageStatus `json:"status"`
	StartedAt *time.Time  `json:"started_at,omitempty"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func (s *StageState) start(now time.Time) {
	s.Status = StageStatusActive
	s.StartedAt = &now
	s.EndedAt = nil
	s.Error = ""
}

func (s *StageState) complete(now time.Time) {
	s.Status = StageStatusCompleted
	s.EndedAt = &now
}

func (s *StageState) fail(now time.Time, err error) {
	s.Status = StageStatusFailed
	s.EndedAt = &now
	if err != nil {
		s.Error = err.Error()
	}
}

// Duration returns how long the stage ran, or zero if it has not finished.
func (s StageState) Duration() time.Duration {
	if s.StartedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.StartedAt)
}

// Progress is a point-in-time snapshot of the controller.
type Progress struct {
	State        State        `json:"state"`
	RunID        string       `json:"run_id,omitempty"`
	Source       string       `json:"source,omitempty"`
	Task         TaskKind     `json:"task,omitempty"`
	CurrentStage StageID      `json:"current_stage,omitempty"`
	Percent      int          `json:"progress"`
	Stages       []StageState `json:"stages"`
	LastError    string       `json:"last_error,omitempty"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

func newProgress(runID, source string, stages []StageID) Progress {
	p := Progress{RunID: runID, Source: source, Stages: make([]StageState, len(stages))}
	for i, id := range stages {
		p.Stages[i] = StageState{ID: id, Status: StageStatusPending}
	}
	return p
}

// clone returns a deep copy safe to hand to other goroutines.
func (p Progress) clone() Progress {
	out := p
	out.Stages = make([]StageState, len(p.Stages))
	copy(out.Stages, p.Stages)
	return out
}

func (p *Progress) stage(id StageID) *StageState {
	for i := range p.Stages {
		if p.Stages[i].ID == id {
			return &p.Stages[i]
		}
	}
	return nil
}

// skipPending marks every stage that never started as skipped.
func (p *Progress) skipPending() {
	for i := range p.Stages {
		if p.Stages[i].Status == StageStatusPending {
			p.Stages[i].Status = StageStatusSkipped
		}
	}
}

func (p *Progress) recalc() {
	if len(p.Stages) == 0 {
		p.Percent = 0
		return
	}
	done := 0
	for _, s := range p.Stages {
		if s.Status == StageStatusCompleted {
			done++
		}
	}
	p.Percent = done * 100 / len(p.Stages)
}
