// Package lock provides the per-contract in-flight marker: a short-lived
// exclusivity lease preventing duplicate concurrent provider calls.
package lock

import (
	"sync"
	"time"
)

// DefaultTTL caps how long a marker can be held, so a worker crashing
// mid-call cannot lock a contract out permanently.
const DefaultTTL = 60 * time.Second

// Keeper hands out exclusive in-flight markers keyed by string (contract id).
// It is process-wide state shared across request handlers.
type Keeper interface {
	// Acquire atomically check-and-sets the marker for key. It returns false
	// if a live marker already exists.
	Acquire(key string) bool
	// Release frees the marker. Safe to call for expired or absent keys.
	Release(key string)
}

type lease struct {
	expiresAt time.Time
}

// InMemoryKeeper implements Keeper with a mutex-guarded map and per-entry
// expiry. Suitable for the single-instance deployment this backend targets.
type InMemoryKeeper struct {
	mu        sync.Mutex
	leases    map[string]lease
	ttl       time.Duration
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewInMemoryKeeper creates a keeper with the given TTL (DefaultTTL if zero)
// and starts a background goroutine reaping expired leases.
func NewInMemoryKeeper(ttl time.Duration) *InMemoryKeeper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	k := &InMemoryKeeper{
		leases:   make(map[string]lease),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}
	k.wg.Add(1)
	go k.reapLoop()
	return k
}

func (k *InMemoryKeeper) Acquire(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	if l, exists := k.leases[key]; exists && time.Now().Before(l.expiresAt) {
		return false
	}
	k.leases[key] = lease{expiresAt: time.Now().Add(k.ttl)}
	return true
}

func (k *InMemoryKeeper) Release(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.leases, key)
}

// Close stops the reaper goroutine. Safe to call multiple times.
func (k *InMemoryKeeper) Close() error {
	k.closeOnce.Do(func() {
		close(k.stopChan)
		k.wg.Wait()
	})
	return nil
}

func (k *InMemoryKeeper) reapLoop() {
	defer k.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-k.stopChan:
			return
		case <-ticker.C:
			k.reap()
		}
	}
}

func (k *InMemoryKeeper) reap() {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	for key, l := range k.leases {
		if now.After(l.expiresAt) {
			delete(k.leases, key)
		}
	}
}

var _ Keeper = (*InMemoryKeeper)(nil)
