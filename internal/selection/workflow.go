package selection

import (
	"context"
	"image"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/cardbatch/internal/manifest"
	"github.com/local/cardbatch/internal/metrics"
)

// State of the disambiguation machine for one run.
type State int

const (
	// Idle means no pending items; assembly may proceed.
	Idle State = iota
	// AwaitingChoice means the item at the cursor needs operator input.
	AwaitingChoice
	// Resolving is the transient state while a submission is converted
	// into resolutions.
	Resolving
)

// Pending is one queued disambiguation: a source that yielded more than one
// candidate card, waiting for the operator to pick the real ones.
type Pending struct {
	RowIndex    int
	Side        manifest.Side
	Reference   string
	DisplayName string
	Candidates  []*image.RGBA
	Default     []int
}

// Resolution is a Pending plus the operator's (or a stored) choice.
type Resolution struct {
	Pending
	Chosen []int
}

// ChoiceStore persists chosen candidate indices per (reference, side) so the
// same source never prompts twice, within a run or across runs.
type ChoiceStore interface {
	Get(ctx context.Context, reference string, side manifest.Side) ([]int, bool, error)
	Put(ctx context.Context, reference string, side manifest.Side, indices []int) error
}

// Workflow queues pending disambiguations during the manifest pass and
// resolves them one at a time once the operator engages. Safe for use from
// the coordinator goroutine and HTTP handlers concurrently.
type Workflow struct {
	mu      sync.Mutex
	choices ChoiceStore
	queue   []Pending
	cursor  int
	state   State
}

func NewWorkflow(choices ChoiceStore) *Workflow {
	return &Workflow{choices: choices}
}

// Enqueue registers a multi-candidate extraction. If a choice is already
// stored for (reference, side) the item is pre-resolved and returned without
// queueing, so repeated sources never re-prompt. Otherwise the item joins
// the queue with a first-candidate default.
func (w *Workflow) Enqueue(ctx context.Context, p Pending) (*Resolution, error) {
	stored, ok, err := w.choices.Get(ctx, p.Reference, p.Side)
	if err != nil {
		log.Warn().Str("ref", p.Reference).Str("side", string(p.Side)).Err(err).
			Msg("choice store lookup failed, queueing for operator")
	}
	if ok {
		chosen := clampIndices(stored, len(p.Candidates))
		if len(chosen) > 0 {
			log.Info().Str("ref", p.Reference).Str("side", string(p.Side)).
				Ints("indices", chosen).Msg("reusing stored selection")
			return &Resolution{Pending: p, Chosen: chosen}, nil
		}
	}

	if len(p.Default) == 0 {
		p.Default = []int{0}
	}
	w.mu.Lock()
	w.queue = append(w.queue, p)
	w.state = AwaitingChoice
	w.mu.Unlock()
	metrics.AddPendingSelections(1)
	return nil, nil
}

// Current returns the item at the cursor, if any.
func (w *Workflow) Current() (Pending, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cursor >= len(w.queue) {
		return Pending{}, false
	}
	return w.queue[w.cursor], true
}

// State returns the machine state.
func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// PendingCount returns how many items still await a choice.
func (w *Workflow) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue) - w.cursor
}

// Submit applies the operator's choice to the item at the cursor.
// Out-of-range indices are dropped individually; the surviving ones are
// persisted and returned as a resolution. Queued items further on whose
// (reference, side) now has a stored choice resolve automatically, so one
// submission can drain several entries. When the queue empties the machine
// returns to Idle.
func (w *Workflow) Submit(ctx context.Context, indices []int) ([]Resolution, error) {
	w.mu.Lock()
	if w.cursor >= len(w.queue) {
		w.mu.Unlock()
		return nil, nil
	}
	w.state = Resolving
	cur := w.queue[w.cursor]
	w.mu.Unlock()

	chosen := clampIndices(indices, len(cur.Candidates))
	if err := w.choices.Put(ctx, cur.Reference, cur.Side, chosen); err != nil {
		log.Warn().Str("ref", cur.Reference).Err(err).Msg("failed to persist selection choice")
	}
	out := []Resolution{{Pending: cur, Chosen: chosen}}
	metrics.IncResolved()

	// Later queue entries for a source we just decided (or one decided in
	// a past run) resolve without their own prompt.
	w.mu.Lock()
	w.cursor++
	for w.cursor < len(w.queue) {
		next := w.queue[w.cursor]
		w.mu.Unlock()
		stored, ok, err := w.choices.Get(ctx, next.Reference, next.Side)
		w.mu.Lock()
		if err != nil || !ok {
			break
		}
		out = append(out, Resolution{Pending: next, Chosen: clampIndices(stored, len(next.Candidates))})
		metrics.IncResolved()
		w.cursor++
	}
	if w.cursor >= len(w.queue) {
		w.queue = nil
		w.cursor = 0
		w.state = Idle
	} else {
		w.state = AwaitingChoice
	}
	pending := len(w.queue) - w.cursor
	w.mu.Unlock()

	metrics.AddPendingSelections(-len(out))
	log.Info().Int("resolved", len(out)).Int("pending", pending).Msg("selection submitted")
	return out, nil
}

// clampIndices drops out-of-range or duplicate indices, preserving order.
func clampIndices(indices []int, n int) []int {
	seen := make(map[int]bool, len(indices))
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	return out
}
