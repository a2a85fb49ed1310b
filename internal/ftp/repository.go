package ftp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"backend-ridecal/internal/kvstore"
)

type blob struct {
	FTP map[string]float64 `json:"ftp"`
}

// Repository persists one History per athlete as a {"ftp": {date: watts}} document. Put and
// Delete rewrite the whole document, so they are serialized within the process.
type Repository struct {
	kv kvstore.Store
	mu sync.Mutex
}

func NewRepository(kv kvstore.Store) *Repository {
	return &Repository{kv: kv}
}

func historyKey(athleteID string) string {
	return "ftp:" + athleteID
}

func (r *Repository) Load(ctx context.Context, athleteID string) (*History, error) {
	raw, err := r.kv.Get(ctx, historyKey(athleteID))
	if errors.Is(err, kvstore.ErrNotFound) {
		return NewHistory(), nil
	}
	if err != nil {
		return nil, err
	}
	var b blob
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("decode ftp history: %w", err)
	}
	return HistoryFrom(b.FTP), nil
}

func (r *Repository) Save(ctx context.Context, athleteID string, h *History) error {
	raw, err := json.Marshal(blob{FTP: h.Map()})
	if err != nil {
		return err
	}
	return r.kv.Set(ctx, historyKey(athleteID), string(raw))
}

func (r *Repository) Put(ctx context.Context, athleteID string, s Sample) (*History, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, err := r.Load(ctx, athleteID)
	if err != nil {
		return nil, err
	}
	if err := h.Set(s.Date, s.Watts); err != nil {
		return nil, err
	}
	return h, r.Save(ctx, athleteID, h)
}

// Delete reports whether a sample existed for date.
func (r *Repository) Delete(ctx context.Context, athleteID, date string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, err := r.Load(ctx, athleteID)
	if err != nil {
		return false, err
	}
	if !h.Remove(date) {
		return false, nil
	}
	return true, r.Save(ctx, athleteID, h)
}
