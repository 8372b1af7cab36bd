package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/cardbatch/internal/fetch"
	"github.com/local/cardbatch/internal/imagex"
	"github.com/local/cardbatch/internal/metrics"
)

// ModelClient calls the card-detection/correction service over HTTP. The
// source photo is resolved locally and shipped as base64 so the service
// never needs credentials for the photo store.
type ModelClient struct {
	endpoint string
	http     *http.Client
	fetcher  *fetch.Resolver
	bgr      bool
}

// NewModelClient builds a client for the detection endpoint. bgr declares
// that the service encodes candidates with BGR channel order, which the
// post-processing step corrects.
func NewModelClient(endpoint string, timeout time.Duration, fetcher *fetch.Resolver, bgr bool) *ModelClient {
	return &ModelClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		fetcher:  fetcher,
		bgr:      bgr,
	}
}

type detectReq struct {
	ImageBase64 string `json:"image_base64"`
	MIMEType    string `json:"mime_type"`
}

type detectResp struct {
	Candidates []struct {
		ImageBase64 string `json:"image_base64"`
	} `json:"candidates"`
}

// Extract resolves the reference, submits it for detection and returns the
// normalized candidates in service order.
func (c *ModelClient) Extract(ctx context.Context, reference string) ([]*image.RGBA, error) {
	data, mime, err := c.fetcher.FetchImage(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	body, _ := json.Marshal(detectReq{
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		MIMEType:    mime,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ObserveExtraction(time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var r detectResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}

	return c.decodeCandidates(r, reference)
}

// ExtractImage runs detection on raw image bytes (the single-photo flow).
func (c *ModelClient) ExtractImage(ctx context.Context, data []byte, mime string) ([]*image.RGBA, error) {
	body, _ := json.Marshal(detectReq{
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		MIMEType:    mime,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	var r detectResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return c.decodeCandidates(r, "upload")
}

func (c *ModelClient) decodeCandidates(r detectResp, reference string) ([]*image.RGBA, error) {
	out := make([]*image.RGBA, 0, len(r.Candidates))
	for i, cand := range r.Candidates {
		raw, err := base64.StdEncoding.DecodeString(cand.ImageBase64)
		if err != nil {
			log.Warn().Int("candidate", i).Str("ref", reference).Err(err).Msg("bad candidate payload, dropped")
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			log.Warn().Int("candidate", i).Str("ref", reference).Err(err).Msg("undecodable candidate, dropped")
			continue
		}
		out = append(out, imagex.Normalize(img, c.bgr))
	}
	log.Debug().Str("ref", reference).Int("candidates", len(out)).Msg("extraction complete")
	return out, nil
}
