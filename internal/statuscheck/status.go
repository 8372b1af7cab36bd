package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// RedisPinger models the minimal redis capability needed for health checks.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// BucketHeader models the S3 reachability probe.
type BucketHeader interface {
	HeadBucket(ctx context.Context) error
}

// Checker aggregates readiness checks for the run's external dependencies.
type Checker struct {
	redis      RedisPinger
	s3         BucketHeader
	extractor  string
	cacheDir   string
	httpClient *http.Client
}

// Options configures the Checker.
type Options struct {
	Redis             RedisPinger
	S3                BucketHeader
	ExtractorEndpoint string
	CacheDir          string
	HTTPClient        *http.Client
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis     Status `json:"redis"`
	S3        Status `json:"s3"`
	Extractor Status `json:"extractor"`
	Cache     Status `json:"cache"`
}

func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Checker{
		redis:      opts.Redis,
		s3:         opts.S3,
		extractor:  opts.ExtractorEndpoint,
		cacheDir:   opts.CacheDir,
		httpClient: client,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	return Summary{
		Redis:     c.checkRedis(ctx),
		S3:        c.checkS3(ctx),
		Extractor: c.checkExtractor(ctx),
		Cache:     c.checkCache(),
	}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "client unavailable"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
	if c.s3 == nil {
		return Status{OK: false, Message: "Not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.s3.HeadBucket(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkExtractor(ctx context.Context) Status {
	if c.extractor == "" {
		return Status{OK: false, Message: "Endpoint not configured"}
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodHead, c.extractor, nil)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

func (c *Checker) checkCache() Status {
	info, err := os.Stat(c.cacheDir)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	if !info.IsDir() {
		return Status{OK: false, Message: "Not a directory"}
	}
	return Status{OK: true, Message: "Writable"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
