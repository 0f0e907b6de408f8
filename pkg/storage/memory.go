package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the latest record per job in memory.
// It is safe for concurrent use by multiple goroutines.
//
// With a TTL, a background goroutine removes records older than the TTL;
// call Stop when done with such a store. Use RedisStore or PostgresStore
// when results must outlive the process or be shared between instances.
type MemoryStore struct {
	mu            sync.RWMutex
	records       map[string]Record
	ttl           time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopped       bool
	stopMu        sync.Mutex
}

// NewMemoryStore creates a store that keeps records until overwritten.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// NewMemoryStoreWithTTL creates a store that drops records older than ttl,
// checking every cleanupInterval (one minute when <= 0).
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	store := &MemoryStore{
		records:       make(map[string]Record),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(cleanupInterval),
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}

	go store.runCleanup()

	return store
}

// Stop shuts down the cleanup goroutine and waits for it. Safe to call more
// than once, and a no-op without TTL.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return
	}

	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopped {
		return
	}

	close(s.stopCleanup)
	<-s.cleanupDone
	s.cleanupTicker.Stop()
	s.stopped = true
}

func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl == 0 {
		return
	}

	for job, rec := range s.records {
		if now.Sub(rec.CreatedAt) > s.ttl {
			delete(s.records, job)
		}
	}
}

// Put stores a record, replacing any earlier one for the same job.
func (s *MemoryStore) Put(ctx context.Context, rec Record) error {
	if err := ValidateJob(rec.Job); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.Job] = rec
	return nil
}

// GetLatest returns the record for a job and whether one exists.
func (s *MemoryStore) GetLatest(ctx context.Context, job string) (Record, bool, error) {
	select {
	case <-ctx.Done():
		return Record{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, found := s.records[job]
	return rec, found, nil
}

// Len returns the number of records currently stored.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Delete removes the record for a job and reports whether one existed.
func (s *MemoryStore) Delete(job string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.records[job]
	delete(s.records, job)
	return existed
}
