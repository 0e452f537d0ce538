package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridoc-ai/remediation-engine/internal/compare"
	"github.com/veridoc-ai/remediation-engine/internal/domain"
	"github.com/veridoc-ai/remediation-engine/internal/scan"
	"github.com/veridoc-ai/remediation-engine/internal/suggest"
)

// State is a run's position in the remediation lifecycle.
type State string

const (
	StateRegistered     State = "registered"
	StateValidated      State = "validated"
	StateCreditReserved State = "credit_reserved"
	StateTagged         State = "tagged"
	StateScanned        State = "scanned"
	StateRepaired       State = "repaired"
	StateReScanned      State = "rescanned"
	StateDiffed         State = "diffed"
	StateSuggested      State = "suggested"
	StateCompleted      State = "completed"
	StateCancelled      State = "cancelled"
	StateFailed         State = "failed"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// StageRecord is one state transition with the time spent reaching it.
type StageRecord struct {
	State   State         `json:"state"`
	Elapsed time.Duration `json:"elapsed"`
}

// Telemetry carries the degradation flags and counters a run accumulates.
type Telemetry struct {
	TaggingDegraded bool          `json:"taggingDegraded"`
	RepairFailed    bool          `json:"repairFailed"`
	RepairErrors    []string      `json:"repairErrors,omitempty"`
	FixesApplied    int           `json:"fixesApplied"`
	Duration        time.Duration `json:"duration"`
	Stages          []StageRecord `json:"stages,omitempty"`
}

// Result is what a finished run hands back to its caller.
type Result struct {
	RunID       uuid.UUID            `json:"runId"`
	State       State                `json:"state"`
	Document    *domain.Document     `json:"-"`
	InitialScan *scan.Report         `json:"initialScan,omitempty"`
	FinalScan   *scan.Report         `json:"finalScan,omitempty"`
	Comparison  *compare.Report      `json:"comparison,omitempty"`
	Suggestions []suggest.Suggestion `json:"suggestions,omitempty"`
	Telemetry   Telemetry            `json:"telemetry"`
	Err         *domain.Error        `json:"error,omitempty"`
}

// Run is the live, in-flight record a registry tracks. State reads and
// transitions are safe from concurrent Status and Cancel calls.
type Run struct {
	ID       uuid.UUID
	UserID   string
	FileName string

	mu        sync.Mutex
	state     State
	cancelled bool
	started   time.Time
	lastMove  time.Time
	history   []StageRecord
}

func newRun(userID, fileName string) *Run {
	now := time.Now()
	return &Run{
		ID:       uuid.New(),
		UserID:   userID,
		FileName: fileName,
		state:    StateRegistered,
		started:  now,
		lastMove: now,
	}
}

// State returns the current lifecycle state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// advance moves the run forward. Transitions out of a terminal state are
// refused so a late stage cannot resurrect a cancelled run.
func (r *Run) advance(to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return false
	}
	now := time.Now()
	r.history = append(r.history, StageRecord{State: to, Elapsed: now.Sub(r.lastMove)})
	r.lastMove = now
	r.state = to
	return true
}

// History returns the transitions recorded so far, each with the time spent
// in the preceding state.
func (r *Run) History() []StageRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StageRecord, len(r.history))
	copy(out, r.history)
	return out
}

// RequestCancel flags the run. The orchestrator observes the flag at the
// next stage boundary; an already terminal run reports false.
func (r *Run) RequestCancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Terminal() {
		return false
	}
	r.cancelled = true
	return true
}

// CancelRequested reports whether a cancellation is pending.
func (r *Run) CancelRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

func (r *Run) elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Since(r.started)
}
