package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const lastDrainKey = "sync.last_drain"

// KV is the key/value slice of the store used for checkpoints.
type KV interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
}

// DrainRecord summarizes one completed drain.
type DrainRecord struct {
	At        time.Time `json:"at"`
	Attempted int       `json:"attempted"`
	Synced    int       `json:"synced"`
	Failed    int       `json:"failed"`
	LastError string    `json:"last_error,omitempty"`
}

// Checkpoints persists drain bookkeeping next to the queue.
type Checkpoints struct {
	kv KV
}

// NewCheckpoints creates a checkpoint tracker.
func NewCheckpoints(kv KV) *Checkpoints {
	return &Checkpoints{kv: kv}
}

// Record stores rec as the latest drain.
func (c *Checkpoints) Record(ctx context.Context, rec DrainRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := c.kv.SetValue(ctx, lastDrainKey, string(raw)); err != nil {
		return fmt.Errorf("save drain checkpoint: %w", err)
	}
	return nil
}

// Last returns the latest drain, or nil if none was recorded.
func (c *Checkpoints) Last(ctx context.Context) (*DrainRecord, error) {
	raw, ok, err := c.kv.GetValue(ctx, lastDrainKey)
	if err != nil || !ok {
		return nil, err
	}
	var rec DrainRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode drain checkpoint: %w", err)
	}
	return &rec, nil
}
