package client

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"featurevotes/internal/models"
)

const (
	pendingKey = "feature-vote-pending-checkouts"
	pendingTTL = 24 * time.Hour
)

// KV is the durable storage behind PendingStore. store.BoltKV satisfies it.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
}

// PendingStore remembers checkouts whose payment has not been confirmed with
// the server yet. Storage failures are logged and never returned; a nil KV
// or a nil store turns every operation into a no-op.
type PendingStore struct {
	mu     sync.Mutex
	kv     KV
	logger *log.Logger
	now    func() time.Time
}

func NewPendingStore(logger *log.Logger, kv KV) *PendingStore {
	return &PendingStore{kv: kv, logger: logger, now: time.Now}
}

// Record adds a pending checkout. Recording an id twice keeps one entry.
func (p *PendingStore) Record(checkoutID, productID string) {
	if p == nil || p.kv == nil || checkoutID == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	records := p.load()
	for _, r := range records {
		if r.CheckoutID == checkoutID {
			return
		}
	}
	records = append(records, models.PendingCheckout{
		CheckoutID: checkoutID,
		ProductID:  productID,
		CreatedAt:  p.now().UnixMilli(),
	})
	p.save(records)
}

// List returns records younger than 24h and purges the rest from storage.
func (p *PendingStore) List() []models.PendingCheckout {
	if p == nil || p.kv == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	records := p.load()
	cutoff := p.now().Add(-pendingTTL).UnixMilli()
	fresh := make([]models.PendingCheckout, 0, len(records))
	for _, r := range records {
		if r.CreatedAt > cutoff {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) != len(records) {
		p.save(fresh)
	}
	return fresh
}

// Remove drops a record. Missing ids are ignored.
func (p *PendingStore) Remove(checkoutID string) {
	if p == nil || p.kv == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	records := p.load()
	kept := records[:0]
	for _, r := range records {
		if r.CheckoutID != checkoutID {
			kept = append(kept, r)
		}
	}
	if len(kept) != len(records) {
		p.save(kept)
	}
}

func (p *PendingStore) load() []models.PendingCheckout {
	raw, err := p.kv.Get(pendingKey)
	if err != nil {
		p.logger.Printf("Pending: read failed: %v", err)
		return nil
	}
	if len(raw) == 0 {
		return nil
	}
	var records []models.PendingCheckout
	if err := json.Unmarshal(raw, &records); err != nil {
		p.logger.Printf("Pending: discarding unreadable records: %v", err)
		return nil
	}
	return records
}

func (p *PendingStore) save(records []models.PendingCheckout) {
	raw, err := json.Marshal(records)
	if err != nil {
		p.logger.Printf("Pending: encode failed: %v", err)
		return
	}
	if err := p.kv.Set(pendingKey, raw); err != nil {
		p.logger.Printf("Pending: write failed: %v", err)
	}
}
