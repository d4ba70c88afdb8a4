package ratelimit

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucketEntry tracks a token bucket and its last access time
type bucketEntry struct {
	identifier string
	limiter    *rate.Limiter
	lastAccess time.Time
}

// BucketLimiter provides plain per-identifier request smoothing using the
// token bucket algorithm, with LRU eviction to bound memory. It sits in
// front of the adaptive limiter on the request path: the bucket absorbs raw
// request floods, the adaptive limiter handles credential abuse.
type BucketLimiter struct {
	buckets    map[string]*list.Element
	lruList    *list.List
	mu         sync.Mutex
	rate       int
	burst      int
	maxEntries int
	logger     *slog.Logger

	stopCleanup chan struct{}
	stopOnce    sync.Once

	totalEvictions int64
}

// NewBucketLimiter creates a bucket limiter allowing requestsPerSecond with
// the given burst per identifier, tracking at most maxEntries identifiers.
func NewBucketLimiter(requestsPerSecond, burst, maxEntries int, logger *slog.Logger) *BucketLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	bl := &BucketLimiter{
		buckets:     make(map[string]*list.Element),
		lruList:     list.New(),
		rate:        requestsPerSecond,
		burst:       burst,
		maxEntries:  maxEntries,
		logger:      logger,
		stopCleanup: make(chan struct{}),
	}

	go bl.cleanupLoop()

	return bl
}

// Allow reports whether a request from the identifier is within its bucket.
func (bl *BucketLimiter) Allow(identifier string) bool {
	now := time.Now()

	bl.mu.Lock()
	defer bl.mu.Unlock()

	if elem, exists := bl.buckets[identifier]; exists {
		bl.lruList.MoveToFront(elem)
		entry := elem.Value.(*bucketEntry)
		entry.lastAccess = now
		return entry.limiter.Allow()
	}

	if len(bl.buckets) >= bl.maxEntries {
		bl.evictLRU()
	}

	entry := &bucketEntry{
		identifier: identifier,
		limiter:    rate.NewLimiter(rate.Limit(bl.rate), bl.burst),
		lastAccess: now,
	}
	bl.buckets[identifier] = bl.lruList.PushFront(entry)

	return entry.limiter.Allow()
}

// evictLRU removes the least recently used entry. Must hold the mutex.
func (bl *BucketLimiter) evictLRU() {
	elem := bl.lruList.Back()
	if elem == nil {
		return
	}
	entry := elem.Value.(*bucketEntry)
	delete(bl.buckets, entry.identifier)
	bl.lruList.Remove(elem)
	bl.totalEvictions++

	bl.logger.Debug("Bucket limiter LRU eviction",
		"identifier", entry.identifier,
		"total_evictions", bl.totalEvictions)
}

func (bl *BucketLimiter) cleanupLoop() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bl.cleanup(30 * time.Minute)
		case <-bl.stopCleanup:
			return
		}
	}
}

// cleanup removes buckets idle longer than maxIdleTime
func (bl *BucketLimiter) cleanup(maxIdleTime time.Duration) {
	bl.mu.Lock()
	defer bl.mu.Unlock()

	now := time.Now()
	var next *list.Element
	for elem := bl.lruList.Front(); elem != nil; elem = next {
		next = elem.Next()
		entry := elem.Value.(*bucketEntry)
		if now.Sub(entry.lastAccess) > maxIdleTime {
			delete(bl.buckets, entry.identifier)
			bl.lruList.Remove(elem)
		}
	}
}

// Len returns the number of tracked identifiers
func (bl *BucketLimiter) Len() int {
	bl.mu.Lock()
	defer bl.mu.Unlock()
	return len(bl.buckets)
}

// Stop gracefully stops the cleanup goroutine. Safe to call multiple times.
func (bl *BucketLimiter) Stop() {
	bl.stopOnce.Do(func() {
		close(bl.stopCleanup)
	})
}
