package services

import (
	"context"
	"sync"
	"time"

	"evalhub/config"
	"evalhub/internal/domain/attachment"
	"evalhub/internal/repository"
	"evalhub/internal/storage"
	"evalhub/pkg/logger"
)

const reaperBatchSize = 100

// ReaperMetrics accumulates counters across sweep cycles.
type ReaperMetrics struct {
	mu            sync.Mutex
	Cycles        uint64
	Reaped        uint64
	Skipped       uint64
	StorageErrors uint64
}

// ReaperMetricsView is a read-only snapshot safe to copy.
type ReaperMetricsView struct {
	Cycles        uint64
	Reaped        uint64
	Skipped       uint64
	StorageErrors uint64
}

// OrphanReaper periodically removes attachments that were never linked to a
// comment within the TTL. The row delete is conditional and happens before
// any storage cleanup, so a linkage or completion that lands mid-sweep keeps
// its attachment intact.
type OrphanReaper struct {
	repo      repository.AttachmentRepository
	store     storage.Backend
	interval  time.Duration
	ttl       time.Duration
	batchSize int
	metrics   *ReaperMetrics

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	log      *logger.Logger
}

func NewOrphanReaper(cfg *config.Config, repo repository.AttachmentRepository, store storage.Backend, log *logger.Logger) *OrphanReaper {
	interval := time.Duration(cfg.SweepIntervalSec) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ttl := time.Duration(cfg.OrphanTTLMin) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &OrphanReaper{
		repo:      repo,
		store:     store,
		interval:  interval,
		ttl:       ttl,
		batchSize: reaperBatchSize,
		metrics:   &ReaperMetrics{},
		stopChan:  make(chan struct{}),
		log:       log,
	}
}

func (r *OrphanReaper) Start() {
	if r.running {
		return
	}
	r.running = true
	r.wg.Add(1)
	go r.run()
	r.log.Infof("orphan reaper started: interval %s, ttl %s", r.interval, r.ttl)
}

func (r *OrphanReaper) Stop() {
	if !r.running {
		return
	}
	r.running = false
	close(r.stopChan)
	r.wg.Wait()
}

func (r *OrphanReaper) run() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopChan:
			return
		case <-ticker.C:
			if _, err := r.SweepOnce(context.Background()); err != nil {
				r.log.Errorf("orphan sweep: %v", err)
			}
		}
	}
}

// SweepOnce reaps one batch of expired orphans and reports how many rows it
// deleted. Candidates that got linked or completed between listing and the
// conditional delete are skipped.
func (r *OrphanReaper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.ttl)
	rows, err := r.repo.ListOrphans(ctx, cutoff, r.batchSize)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, a := range rows {
		deleted, err := r.repo.DeleteOrphan(ctx, a.ID, cutoff)
		if err != nil {
			r.log.Errorf("reaping %s: %v", a.ID, err)
			continue
		}
		if !deleted {
			r.metrics.addSkipped(1)
			continue
		}
		reaped++
		r.metrics.addReaped(1)
		r.cleanupStorage(ctx, a)
	}

	r.metrics.recordCycle()
	if reaped > 0 || len(rows) > 0 {
		r.log.Infof("orphan sweep: %d candidates, %d reaped", len(rows), reaped)
	}
	return reaped, nil
}

// cleanupStorage removes whatever objects the reaped row referenced: the
// final object for ready rows, leftover chunk objects for uploading and
// quarantined rows, and the thumbnail when one was generated.
func (r *OrphanReaper) cleanupStorage(ctx context.Context, a attachment.Attachment) {
	if err := r.store.Delete(ctx, a.StorageKey); err != nil {
		r.log.Errorf("deleting object %s: %v", a.StorageKey, err)
		r.metrics.addStorageErrors(1)
	}
	if a.ThumbnailStorageKey.Valid {
		if err := r.store.Delete(ctx, a.ThumbnailStorageKey.String); err != nil {
			r.log.Errorf("deleting thumbnail %s: %v", a.ThumbnailStorageKey.String, err)
			r.metrics.addStorageErrors(1)
		}
	}
	if failed := cleanupChunkObjects(ctx, r.store, r.log, a.StorageKey, a.TotalChunks); failed > 0 {
		r.metrics.addStorageErrors(failed)
	}
}

// MetricsSnapshot returns a copy of the current counters.
func (r *OrphanReaper) MetricsSnapshot() ReaperMetricsView {
	r.metrics.mu.Lock()
	defer r.metrics.mu.Unlock()
	return ReaperMetricsView{
		Cycles:        r.metrics.Cycles,
		Reaped:        r.metrics.Reaped,
		Skipped:       r.metrics.Skipped,
		StorageErrors: r.metrics.StorageErrors,
	}
}

func (m *ReaperMetrics) addReaped(n int) {
	m.mu.Lock()
	m.Reaped += uint64(n)
	m.mu.Unlock()
}

func (m *ReaperMetrics) addSkipped(n int) {
	m.mu.Lock()
	m.Skipped += uint64(n)
	m.mu.Unlock()
}

func (m *ReaperMetrics) addStorageErrors(n int) {
	m.mu.Lock()
	m.StorageErrors += uint64(n)
	m.mu.Unlock()
}

func (m *ReaperMetrics) recordCycle() {
	m.mu.Lock()
	m.Cycles++
	m.mu.Unlock()
}
