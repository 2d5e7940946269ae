package client

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type mapConfirmer struct {
	mu      sync.Mutex
	results map[string]bool
	seen    []string
	pending *PendingStore
}

func (m *mapConfirmer) Confirm(ctx context.Context, checkoutID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, checkoutID)
	ok := m.results[checkoutID]
	if ok {
		m.pending.Remove(checkoutID)
	}
	return ok
}

func TestRecoverPending(t *testing.T) {
	pending := NewPendingStore(discardLogger(), newMemoryKV())
	for i := 1; i <= 6; i++ {
		pending.Record(fmt.Sprintf("chk_%d", i), "prod_payjoin")
	}
	confirmer := &mapConfirmer{
		results: map[string]bool{"chk_2": true, "chk_5": true},
		pending: pending,
	}

	var callbacks []int
	n := RecoverPending(context.Background(), discardLogger(), pending, confirmer, func(recovered int) {
		callbacks = append(callbacks, recovered)
	})

	assert.Equal(t, 2, n)
	assert.Equal(t, []int{2}, callbacks)
	assert.Len(t, confirmer.seen, 6)
	assert.Len(t, pending.List(), 4)
}

func TestRecoverPending_NothingRecovered(t *testing.T) {
	pending := NewPendingStore(discardLogger(), newMemoryKV())
	pending.Record("chk_1", "prod_payjoin")
	confirmer := &mapConfirmer{results: map[string]bool{}, pending: pending}

	called := false
	n := RecoverPending(context.Background(), discardLogger(), pending, confirmer, func(int) { called = true })
	assert.Zero(t, n)
	assert.False(t, called)
}

func TestRecoverPending_EmptyStore(t *testing.T) {
	confirmer := &mapConfirmer{}
	n := RecoverPending(context.Background(), discardLogger(), NewPendingStore(discardLogger(), nil), confirmer, nil)
	assert.Zero(t, n)
	assert.Empty(t, confirmer.seen)
}
