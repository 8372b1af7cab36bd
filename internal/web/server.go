package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/local/cardbatch/internal/batch"
	"github.com/local/cardbatch/internal/config"
	"github.com/local/cardbatch/internal/extract"
	"github.com/local/cardbatch/internal/imagex"
	"github.com/local/cardbatch/internal/manifest"
	"github.com/local/cardbatch/internal/metrics"
	"github.com/local/cardbatch/internal/preview"
	"github.com/local/cardbatch/internal/selection"
	"github.com/local/cardbatch/internal/statuscheck"
)

// Candidate payload bounds: thumbnails for the selection UI and full-size
// candidates from the single-photo flow are re-encoded to a byte budget so
// responses stay small regardless of source resolution.
const (
	thumbMaxWidth   = 320
	thumbMaxBytes   = 64 << 10
	extractMaxWidth = 800
	extractMaxBytes = 256 << 10
)

// Server exposes the batch pipeline over HTTP.
type Server struct {
	cfg     config.ServerConfig
	coord   *batch.Coordinator
	model   *extract.ModelClient
	checker *statuscheck.Checker

	mu   sync.Mutex
	runs map[string]*runEntry
}

type runEntry struct {
	state  *batch.State
	cancel context.CancelFunc
}

func NewServer(cfg config.ServerConfig, coord *batch.Coordinator, model *extract.ModelClient, checker *statuscheck.Checker) *Server {
	return &Server{
		cfg:     cfg,
		coord:   coord,
		model:   model,
		checker: checker,
		runs:    make(map[string]*runEntry),
	}
}

// RegisterRoutes attaches all handlers to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/batch/upload", s.handleUpload)
	mux.HandleFunc("/progress/", s.handleProgress)
	mux.HandleFunc("/selection/", s.handleSelection)
	mux.HandleFunc("/download/", s.handleDownload)
	mux.HandleFunc("/preview/", s.handlePreview)
	mux.HandleFunc("/batch/", s.handleRun)
	mux.HandleFunc("/extract", s.handleExtract)
}

func (s *Server) run(id string) (*runEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.runs[id]
	return e, ok
}

// handleUpload accepts a multipart CSV manifest plus an output name and
// starts a run. Processing happens in the background; the handler returns
// the run id immediately.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("manifest")
	if err != nil {
		http.Error(w, "missing manifest", http.StatusBadRequest)
		return
	}
	defer file.Close()
	raw, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}

	rows, err := manifest.Parse(bytes.NewReader(raw))
	if err != nil {
		http.Error(w, "unreadable manifest: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(rows) == 0 {
		http.Error(w, "empty manifest", http.StatusBadRequest)
		return
	}
	outName := strings.TrimSpace(r.FormValue("output"))
	if outName == "" {
		http.Error(w, "missing output name", http.StatusBadRequest)
		return
	}
	if !strings.HasSuffix(strings.ToLower(outName), ".pdf") {
		outName += ".pdf"
	}

	st, err := s.coord.Begin(rows, outName)
	if err != nil {
		http.Error(w, "cannot start run", http.StatusInternalServerError)
		return
	}
	// Keep the submitted manifest next to the run for later inspection.
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err == nil {
		p := filepath.Join(s.cfg.UploadDir, st.ID+".csv")
		if werr := os.WriteFile(p, raw, 0o644); werr == nil {
			st.RegisterTemp(p)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.runs[st.ID] = &runEntry{state: st, cancel: cancel}
	s.mu.Unlock()

	go func() {
		if err := s.coord.Run(ctx, st); err != nil {
			log.Warn().Str("run", st.ID).Err(err).Msg("run finished with error")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"run_id": st.ID, "rows": strconv.Itoa(len(rows))})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/progress/")
	e, ok := s.run(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	status, detail := e.state.Status()
	resp := map[string]interface{}{
		"run_id":   id,
		"status":   status,
		"progress": detail,
		"pending":  e.state.Workflow().PendingCount(),
	}
	if out := e.state.Output(); out != "" {
		resp["output"] = filepath.Base(out)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleSelection serves the current pending item (GET) and applies the
// operator's chosen indices (POST), resuming assembly once the queue
// drains.
func (s *Server) handleSelection(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/selection/")
	e, ok := s.run(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.serveCurrentSelection(w, e.state.Workflow())
	case http.MethodPost:
		var req struct {
			Indices []int `json:"indices"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if err := s.coord.Resolve(context.Background(), e.state, req.Indices); err != nil {
			log.Warn().Str("run", id).Err(err).Msg("resolve ended with reported outcome")
		}
		status, detail := e.state.Status()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   status,
			"progress": detail,
			"pending":  e.state.Workflow().PendingCount(),
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) serveCurrentSelection(w http.ResponseWriter, wf *selection.Workflow) {
	cur, ok := wf.Current()
	if !ok {
		http.Error(w, "no pending selection", http.StatusNotFound)
		return
	}
	thumbs := make([]string, 0, len(cur.Candidates))
	for i, c := range cur.Candidates {
		data, err := imagex.EncodeJPEGBounded(c, thumbMaxWidth, thumbMaxBytes)
		if err != nil {
			log.Warn().Int("candidate", i).Err(err).Msg("thumbnail encode failed")
			thumbs = append(thumbs, "")
			continue
		}
		thumbs = append(thumbs, base64.StdEncoding.EncodeToString(data))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"row_index":    cur.RowIndex,
		"side":         cur.Side,
		"reference":    cur.Reference,
		"display_name": cur.DisplayName,
		"default":      cur.Default,
		"candidates":   thumbs,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/download/")
	e, ok := s.run(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	out := e.state.Output()
	if out == "" {
		http.Error(w, "not ready", http.StatusConflict)
		return
	}
	f, err := os.Open(out)
	if err != nil {
		http.Error(w, "failed to read result", http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filepath.Base(out)))
	_, _ = io.Copy(w, f)
}

// handlePreview renders one page of a finished document as JPEG:
// /preview/{id}/{page}.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/preview/")
	id, pageStr, ok := strings.Cut(rest, "/")
	if !ok {
		http.Error(w, "missing page number", http.StatusBadRequest)
		return
	}
	e, found := s.run(id)
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	out := e.state.Output()
	if out == "" {
		http.Error(w, "not ready", http.StatusConflict)
		return
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil {
		http.Error(w, "bad page number", http.StatusBadRequest)
		return
	}
	data, err := preview.RenderPageJPEG(out, page, 96, 80)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	_, _ = w.Write(data)
}

// handleRun supports DELETE /batch/{id}: abandon a run and tear down its
// transient artifacts. Already-finalized records and the cache survive.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/batch/")
	s.mu.Lock()
	e, ok := s.runs[id]
	if ok {
		delete(s.runs, id)
	}
	s.mu.Unlock()
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	e.cancel()
	e.state.Teardown()
	w.WriteHeader(http.StatusNoContent)
}

// handleExtract runs detection on one uploaded photo and returns the
// candidates as base64 JPEG, without touching the cache.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "missing image", http.StatusBadRequest)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read failed", http.StatusInternalServerError)
		return
	}
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		http.Error(w, "payload is not an image", http.StatusBadRequest)
		return
	}

	candidates, err := s.model.ExtractImage(r.Context(), data, mtype.String())
	if err != nil {
		http.Error(w, "extraction unavailable", http.StatusBadGateway)
		return
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		enc, err := imagex.EncodeJPEGBounded(c, extractMaxWidth, extractMaxBytes)
		if err != nil {
			continue
		}
		out = append(out, base64.StdEncoding.EncodeToString(enc))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"count":      len(out),
		"candidates": out,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sum := s.checker.Summary(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(sum)
}

// TeardownAll cancels and tears down every tracked run (process shutdown).
func (s *Server) TeardownAll() {
	s.mu.Lock()
	entries := make([]*runEntry, 0, len(s.runs))
	for id, e := range s.runs {
		entries = append(entries, e)
		delete(s.runs, id)
	}
	s.mu.Unlock()
	for _, e := range entries {
		e.cancel()
		e.state.Teardown()
	}
}
