package batch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/cardbatch/internal/assemble"
	"github.com/local/cardbatch/internal/extract"
	"github.com/local/cardbatch/internal/manifest"
	"github.com/local/cardbatch/internal/metrics"
	"github.com/local/cardbatch/internal/refcache"
	"github.com/local/cardbatch/internal/selection"
	"github.com/local/cardbatch/internal/store"
)

// StatusSink receives run status updates. Satisfied by store.RedisStatus;
// nil-safe via the coordinator's publish helper.
type StatusSink interface {
	Set(ctx context.Context, runID string, st store.Status) error
}

// Uploader pushes the finished document to object storage. Optional.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Coordinator drives manifest rows through cache lookup, extraction and
// disambiguation, then hands the accumulated records to assembly. One
// coordinator serves all runs; per-run data lives in State.
type Coordinator struct {
	cache     *refcache.Cache
	extractor extract.Extractor
	choices   selection.ChoiceStore
	engine    *assemble.Engine
	status    StatusSink
	uploader  Uploader
	uploadKey func(outName string) string

	// OnProgress, when set, receives one event per processed row before
	// the next row starts.
	OnProgress func(runID string, ev Progress)
}

// Progress is one streaming update: emitted after each row's sides were
// attempted.
type Progress struct {
	Row     int
	Total   int
	Text    string
	Pending int
}

func NewCoordinator(cache *refcache.Cache, ex extract.Extractor, choices selection.ChoiceStore, eng *assemble.Engine, status StatusSink) *Coordinator {
	return &Coordinator{
		cache:     cache,
		extractor: ex,
		choices:   choices,
		engine:    eng,
		status:    status,
	}
}

// WithUploader enables uploading finished documents; keyFn maps the output
// name to an object key.
func (c *Coordinator) WithUploader(u Uploader, keyFn func(string) string) *Coordinator {
	c.uploader = u
	c.uploadKey = keyFn
	return c
}

// Begin creates the state handle for a run, including its own selection
// queue. Runs never see each other's pending items; stored choices are the
// only cross-run state.
func (c *Coordinator) Begin(rows []manifest.Row, outName string) (*State, error) {
	st, err := newState(rows, outName, selection.NewWorkflow(c.choices))
	if err != nil {
		return nil, err
	}
	log.Info().Str("run", st.ID).Int("rows", len(rows)).Msg("batch run created")
	return st, nil
}

// Run processes every manifest row in ascending order. Per-item failures
// are absorbed; the pass always completes. If pending selections remain
// afterwards the run suspends in awaiting_selection and assembly happens
// later, from Resolve. Otherwise assembly runs immediately.
func (c *Coordinator) Run(ctx context.Context, st *State) error {
	total := len(st.Rows)
	for i, row := range st.Rows {
		if err := ctx.Err(); err != nil {
			st.setStatus(StatusFailed, "cancelled")
			c.publish(ctx, st)
			return err
		}
		finalized, attempted := 0, 0
		for _, side := range []manifest.Side{manifest.SideFront, manifest.SideBack} {
			ref := row.Ref(side)
			if manifest.IsPlaceholder(ref) {
				continue
			}
			attempted++
			if c.processSide(ctx, st, row, side, ref) {
				finalized++
			}
		}
		switch {
		case attempted == 0:
			metrics.IncRow("empty")
		case finalized == attempted:
			metrics.IncRow("complete")
		default:
			metrics.IncRow("partial")
		}

		text := fmt.Sprintf("processed %d/%d rows", i+1, total)
		st.setStatus(StatusProcessing, text)
		c.publish(ctx, st)
		if c.OnProgress != nil {
			c.OnProgress(st.ID, Progress{Row: i, Total: total, Text: text, Pending: st.workflow.PendingCount()})
		}
	}

	if n := st.workflow.PendingCount(); n > 0 {
		st.setStatus(StatusAwaitingSelection, fmt.Sprintf("%d selections pending", n))
		c.publish(ctx, st)
		log.Info().Str("run", st.ID).Int("pending", n).Msg("run suspended for operator selection")
		return nil
	}
	return c.assemble(ctx, st)
}

// processSide runs one (row, side) through cache then extraction. Returns
// true when the side finalized into at least one record now; enqueued
// selections finalize later.
func (c *Coordinator) processSide(ctx context.Context, st *State, row manifest.Row, side manifest.Side, ref string) bool {
	if path, ok := c.cache.Lookup(ref); ok {
		// A cached artifact is a previously resolved result, even if
		// the original extraction was ambiguous.
		metrics.IncCache("hit")
		st.AddRecord(assemble.Item{Path: path, Side: side, RowIndex: row.Index, DisplayName: row.DisplayName})
		return true
	}
	metrics.IncCache("miss")

	candidates, err := c.extractor.Extract(ctx, ref)
	if err != nil {
		metrics.IncExtract("error")
		log.Warn().Str("run", st.ID).Int("row", row.Index).Str("side", string(side)).
			Str("ref", ref).Err(err).Msg("extraction failed, side undetected")
		return false
	}
	switch len(candidates) {
	case 0:
		metrics.IncExtract("none")
		log.Info().Str("run", st.ID).Int("row", row.Index).Str("side", string(side)).
			Str("ref", ref).Msg("no card detected")
		return false
	case 1:
		metrics.IncExtract("single")
		path, err := c.cache.Store(ref, candidates[0])
		if err != nil {
			log.Error().Str("run", st.ID).Str("ref", ref).Err(err).Msg("cache write failed, side dropped")
			return false
		}
		st.AddRecord(assemble.Item{Path: path, Side: side, RowIndex: row.Index, DisplayName: row.DisplayName})
		return true
	default:
		metrics.IncExtract("multi")
		res, err := st.workflow.Enqueue(ctx, selection.Pending{
			RowIndex:    row.Index,
			Side:        side,
			Reference:   ref,
			DisplayName: row.DisplayName,
			Candidates:  candidates,
		})
		if err != nil {
			log.Warn().Str("ref", ref).Err(err).Msg("failed to queue selection, side dropped")
			return false
		}
		if res != nil {
			// A stored choice pre-resolved the ambiguity.
			return c.finalizeResolution(st, *res) > 0
		}
		return false
	}
}

// Resolve applies an operator submission for the run's current pending item
// and finalizes everything the submission unblocked. When the queue drains,
// assembly runs.
func (c *Coordinator) Resolve(ctx context.Context, st *State, indices []int) error {
	resolutions, err := st.workflow.Submit(ctx, indices)
	if err != nil {
		return err
	}
	for _, res := range resolutions {
		c.finalizeResolution(st, res)
	}
	if n := st.workflow.PendingCount(); n > 0 {
		st.setStatus(StatusAwaitingSelection, fmt.Sprintf("%d selections pending", n))
		c.publish(ctx, st)
		return nil
	}
	return c.assemble(ctx, st)
}

// finalizeResolution stores one artifact per chosen candidate and records
// it. Multi-selects share the reference but get distinct artifact paths per
// candidate index. Returns how many records were added.
func (c *Coordinator) finalizeResolution(st *State, res selection.Resolution) int {
	added := 0
	for i, idx := range res.Chosen {
		if idx < 0 || idx >= len(res.Candidates) {
			continue
		}
		path, err := c.cache.StoreAt(res.Reference, i, res.Candidates[idx])
		if err != nil {
			log.Error().Str("ref", res.Reference).Int("candidate", idx).Err(err).
				Msg("cache write failed for chosen candidate")
			continue
		}
		st.AddRecord(assemble.Item{Path: path, Side: res.Side, RowIndex: res.RowIndex, DisplayName: res.DisplayName})
		added++
	}
	log.Info().Str("run", st.ID).Int("row", res.RowIndex).Str("side", string(res.Side)).
		Ints("chosen", res.Chosen).Int("records", added).Msg("selection finalized")
	return added
}

// Assemble builds the document from whatever records exist right now.
// Exposed so a partially processed or abandoned run can still produce
// output on demand.
func (c *Coordinator) Assemble(ctx context.Context, st *State) error {
	return c.assemble(ctx, st)
}

func (c *Coordinator) assemble(ctx context.Context, st *State) error {
	st.setStatus(StatusAssembling, "assembling document")
	c.publish(ctx, st)

	path, err := c.engine.Assemble(st.WorkDir(), st.Records(), st.OutName)
	if err == assemble.ErrNothingToAssemble {
		st.setStatus(StatusEmpty, "nothing to assemble")
		c.publish(ctx, st)
		return err
	}
	if err != nil {
		st.setStatus(StatusFailed, err.Error())
		c.publish(ctx, st)
		return err
	}
	st.setOutput(path)
	st.setStatus(StatusDone, "document ready")
	c.publish(ctx, st)

	if c.uploader != nil && c.uploadKey != nil {
		c.uploadResult(ctx, st, path)
	}
	return nil
}

func (c *Coordinator) uploadResult(ctx context.Context, st *State, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Str("path", path).Err(err).Msg("cannot read document for upload")
		return
	}
	url, err := c.uploader.Upload(ctx, c.uploadKey(st.OutName), data, "application/pdf")
	if err != nil {
		log.Warn().Str("run", st.ID).Err(err).Msg("result upload failed")
		return
	}
	log.Info().Str("run", st.ID).Str("url", url).Msg("result uploaded")
}

func (c *Coordinator) publish(ctx context.Context, st *State) {
	if c.status == nil {
		return
	}
	status, detail := st.Status()
	rec := store.Status{
		Status:   status,
		Progress: detail,
		Output:   st.Output(),
		Start:    &st.Started,
	}
	if status == StatusDone || status == StatusEmpty || status == StatusFailed {
		now := time.Now()
		rec.End = &now
	}
	if err := c.status.Set(ctx, st.ID, rec); err != nil {
		log.Warn().Str("run", st.ID).Err(err).Msg("status publish failed")
	}
}
