package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Status is the externally visible state of one batch run.
type Status struct {
	Status   string                 `json:"status"`
	Progress string                 `json:"progress"`
	Output   string                 `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Start    *time.Time             `json:"start_time,omitempty"`
	End      *time.Time             `json:"end_time,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RedisStatus records run status hashes under a 7 day expiry.
type RedisStatus struct {
	client *redis.Client
	keyNS  string
}

func NewRedisStatus(client *redis.Client) *RedisStatus {
	return &RedisStatus{client: client, keyNS: "run"}
}

func (s *RedisStatus) key(runID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, runID) }

func (s *RedisStatus) Set(ctx context.Context, runID string, st Status) error {
	m := map[string]interface{}{
		"status":   st.Status,
		"progress": st.Progress,
		"output":   st.Output,
		"error":    st.Error,
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	if st.Metadata != nil {
		b, _ := json.Marshal(st.Metadata)
		m["metadata"] = string(b)
	}
	k := s.key(runID)
	if err := s.client.HSet(ctx, k, m).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, k, 7*24*time.Hour).Err()
}

func (s *RedisStatus) Get(ctx context.Context, runID string) (Status, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(runID)).Result()
	if err != nil {
		return Status{}, false, err
	}
	if len(res) == 0 {
		return Status{}, false, nil
	}
	st := Status{
		Status:   res["status"],
		Progress: res["progress"],
		Output:   res["output"],
		Error:    res["error"],
	}
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	if v := res["metadata"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Metadata)
	}
	return st, true, nil
}

func (s *RedisStatus) Close() error { return s.client.Close() }
