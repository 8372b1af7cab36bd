package batch

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/cardbatch/internal/assemble"
	"github.com/local/cardbatch/internal/manifest"
	"github.com/local/cardbatch/internal/selection"
)

// Run statuses surfaced to the presentation side.
const (
	StatusProcessing        = "processing"
	StatusAwaitingSelection = "awaiting_selection"
	StatusAssembling        = "assembling"
	StatusDone              = "done"
	StatusEmpty             = "empty"
	StatusFailed            = "failed"
)

// State is the explicit handle for one batch run. It owns the accumulated
// image records, the run's work directory and every transient artifact the
// run creates. Nothing about a run lives in package globals; the state is
// created at Begin and torn down when the run is abandoned or its output is
// no longer needed.
type State struct {
	ID      string
	Rows    []manifest.Row
	OutName string
	Started time.Time

	mu       sync.Mutex
	records  []assemble.Item
	status   string
	detail   string
	output   string
	workDir  string
	temps    []string
	workflow *selection.Workflow
}

func newState(rows []manifest.Row, outName string, wf *selection.Workflow) (*State, error) {
	workDir, err := os.MkdirTemp("", "cardbatch-run-")
	if err != nil {
		return nil, fmt.Errorf("create run work dir: %w", err)
	}
	return &State{
		ID:       uuid.NewString(),
		Rows:     rows,
		OutName:  outName,
		Started:  time.Now(),
		status:   StatusProcessing,
		workDir:  workDir,
		workflow: wf,
	}, nil
}

// Workflow returns the run's own disambiguation queue. Each run queues and
// resolves independently; only the choice store behind it is shared.
func (s *State) Workflow() *selection.Workflow { return s.workflow }

// WorkDir is the run-owned scratch directory. Page images and candidate
// thumbnails live here and disappear with the run.
func (s *State) WorkDir() string { return s.workDir }

// RegisterTemp records a transient artifact outside the work dir so
// Teardown can remove it. Artifacts under WorkDir need no registration.
func (s *State) RegisterTemp(path string) {
	s.mu.Lock()
	s.temps = append(s.temps, path)
	s.mu.Unlock()
}

// AddRecord appends a finalized image. Accumulation is append-only and
// keyed by row/side inside the records themselves; arrival order is
// irrelevant to the final document.
func (s *State) AddRecord(it assemble.Item) {
	s.mu.Lock()
	s.records = append(s.records, it)
	s.mu.Unlock()
}

// Records returns a snapshot of the accumulated images.
func (s *State) Records() []assemble.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]assemble.Item, len(s.records))
	copy(out, s.records)
	return out
}

func (s *State) setStatus(status, detail string) {
	s.mu.Lock()
	s.status = status
	s.detail = detail
	s.mu.Unlock()
}

// Status returns the run status plus its progress detail line.
func (s *State) Status() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status, s.detail
}

func (s *State) setOutput(path string) {
	s.mu.Lock()
	s.output = path
	s.mu.Unlock()
}

// Output returns the finished document path ("" until assembly succeeds).
func (s *State) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

// Teardown deletes the run's work dir and every registered transient
// artifact. The cache directory and the output document are never touched.
func (s *State) Teardown() {
	s.mu.Lock()
	temps := s.temps
	s.temps = nil
	s.mu.Unlock()
	for _, p := range temps {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn().Str("path", p).Err(err).Msg("failed to remove run artifact")
		}
	}
	if s.workDir != "" {
		if err := os.RemoveAll(s.workDir); err != nil {
			log.Warn().Str("path", s.workDir).Err(err).Msg("failed to remove run work dir")
		}
	}
	log.Debug().Str("run", s.ID).Msg("run state torn down")
}
