package web

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	_ "image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/local/cardbatch/internal/assemble"
	"github.com/local/cardbatch/internal/batch"
	"github.com/local/cardbatch/internal/config"
	"github.com/local/cardbatch/internal/refcache"
	"github.com/local/cardbatch/internal/selection"
	"github.com/local/cardbatch/internal/statuscheck"
)

type stubExtractor struct {
	candidates int
}

func (s *stubExtractor) Extract(context.Context, string) ([]*image.RGBA, error) {
	out := make([]*image.RGBA, s.candidates)
	for i := range out {
		img := image.NewRGBA(image.Rect(0, 0, 900, 600))
		for j := range img.Pix {
			img.Pix[j] = 150
		}
		out[i] = img
	}
	return out, nil
}

func newTestServer(t *testing.T, candidates int) *httptest.Server {
	t.Helper()
	cache := refcache.New(t.TempDir(), "/file/")
	eng := assemble.NewEngine(config.AssemblyConfig{
		OutputDir:   t.TempDir(),
		GridRows:    4,
		GridCols:    2,
		PageDPI:     72,
		JPEGQuality: 80,
	})
	coord := batch.NewCoordinator(cache, &stubExtractor{candidates: candidates}, selection.NewMemoryChoices(), eng, nil)
	srv := NewServer(config.ServerConfig{UploadDir: t.TempDir()}, coord, nil, statuscheck.New(statuscheck.Options{}))
	t.Cleanup(srv.TeardownAll)

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func uploadManifest(t *testing.T, ts *httptest.Server, csv string) string {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("manifest", "rows.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write([]byte(csv)); err != nil {
		t.Fatal(err)
	}
	if err := mw.WriteField("output", "result"); err != nil {
		t.Fatal(err)
	}
	mw.Close()

	resp, err := http.Post(ts.URL+"/batch/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload returned %d", resp.StatusCode)
	}
	var out struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.RunID == "" {
		t.Fatal("empty run id")
	}
	return out.RunID
}

func waitForStatus(t *testing.T, ts *httptest.Server, id, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/progress/" + id)
		if err != nil {
			t.Fatal(err)
		}
		var body map[string]interface{}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if body["status"] == want {
			return body
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s never reached status %q", id, want)
	return nil
}

func TestUploadAndDownload(t *testing.T) {
	ts := newTestServer(t, 1)
	id := uploadManifest(t, ts, "Alice,u1.jpg,u2.jpg\n")
	waitForStatus(t, ts, id, batch.StatusDone)

	resp, err := http.Get(ts.URL + "/download/" + id)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download returned %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}
}

func TestSelectionRoundTrip(t *testing.T) {
	ts := newTestServer(t, 3)
	id := uploadManifest(t, ts, "Bob,u3.jpg,\n")
	waitForStatus(t, ts, id, batch.StatusAwaitingSelection)

	resp, err := http.Get(ts.URL + "/selection/" + id)
	if err != nil {
		t.Fatal(err)
	}
	var sel struct {
		Side       string   `json:"side"`
		Default    []int    `json:"default"`
		Candidates []string `json:"candidates"`
	}
	err = json.NewDecoder(resp.Body).Decode(&sel)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(sel.Candidates) != 3 {
		t.Fatalf("got %d candidates, want 3", len(sel.Candidates))
	}
	if sel.Side != "front" || len(sel.Default) != 1 || sel.Default[0] != 0 {
		t.Errorf("selection item = %+v", sel)
	}
	raw, err := base64.StdEncoding.DecodeString(sel.Candidates[0])
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) > thumbMaxBytes {
		t.Errorf("thumbnail is %d bytes, limit %d", len(raw), thumbMaxBytes)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Width != thumbMaxWidth {
		t.Errorf("thumbnail width = %d, want %d", cfg.Width, thumbMaxWidth)
	}

	payload, _ := json.Marshal(map[string][]int{"indices": {0, 2}})
	resp, err = http.Post(ts.URL+"/selection/"+id, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit returned %d", resp.StatusCode)
	}
	waitForStatus(t, ts, id, batch.StatusDone)
}

func TestUploadValidation(t *testing.T) {
	ts := newTestServer(t, 1)

	resp, err := http.Post(ts.URL+"/batch/upload", "text/plain", bytes.NewReader([]byte("x")))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-multipart upload returned %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/progress/does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown run returned %d", resp.StatusCode)
	}
}

func TestAbandonRun(t *testing.T) {
	ts := newTestServer(t, 3)
	id := uploadManifest(t, ts, "Bob,u3.jpg,\n")
	waitForStatus(t, ts, id, batch.StatusAwaitingSelection)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/batch/"+id, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete returned %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/progress/" + id)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("abandoned run still visible: %d", resp.StatusCode)
	}
}
