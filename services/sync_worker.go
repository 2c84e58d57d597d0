package services

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"strictHabitAPI/internal/cache"
	"strictHabitAPI/internal/metrics"
	"strictHabitAPI/internal/session"
	"strictHabitAPI/internal/types/checkin"
)

type dailyChecker interface {
	DailyCheck(ctx context.Context, sess session.Session) (*checkin.Report, error)
}

// historyPruner is implemented by stores that keep history in process memory.
type historyPruner interface {
	Prune(before string) int
}

type SyncConfig struct {
	Workers  int
	Interval time.Duration
	// TrackFor is how long a wallet keeps being synced after its last request.
	TrackFor   time.Duration
	JobTimeout time.Duration
	// MaxTracked bounds the tracked set; the least recently seen wallet makes
	// room for a new one.
	MaxTracked int
	// HistoryDays is how many days of in-memory history survive eviction.
	HistoryDays int
}

// SyncWorker re-runs the daily check in the background for wallets that used
// the API recently, and drops cache entries of past days.
type SyncWorker struct {
	checker  dailyChecker
	today    *cache.CompletedToday
	history  HistoryStore
	cfg      SyncConfig
	logger   *zap.Logger
	jobQueue chan common.Address
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu      sync.Mutex
	tracked map[common.Address]time.Time
	now     func() time.Time
}

func NewSyncWorker(checker *CheckInService, today *cache.CompletedToday, history HistoryStore, cfg SyncConfig, logger *zap.Logger) *SyncWorker {
	return newSyncWorker(checker, today, history, cfg, logger)
}

func newSyncWorker(checker dailyChecker, today *cache.CompletedToday, history HistoryStore, cfg SyncConfig, logger *zap.Logger) *SyncWorker {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.TrackFor <= 0 {
		cfg.TrackFor = 24 * time.Hour
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	if cfg.MaxTracked <= 0 {
		cfg.MaxTracked = 10000
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = 30
	}

	w := &SyncWorker{
		checker:  checker,
		today:    today,
		history:  history,
		cfg:      cfg,
		logger:   logger,
		jobQueue: make(chan common.Address, 100),
		stopChan: make(chan struct{}),
		tracked:  make(map[common.Address]time.Time),
		now:      time.Now,
	}

	for i := 0; i < cfg.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}

	w.wg.Add(2)
	go w.every(cfg.Interval, w.SyncTracked)
	go w.every(time.Minute, w.evict)

	return w
}

// Track marks the session's wallet as recently active.
func (w *SyncWorker) Track(sess session.Session) {
	if !sess.Connected() {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.tracked[sess.Address]; !ok && len(w.tracked) >= w.cfg.MaxTracked {
		w.dropOldest()
	}
	w.tracked[sess.Address] = w.now()
}

// dropOldest must be called with mu held.
func (w *SyncWorker) dropOldest() {
	var (
		oldest common.Address
		seen   time.Time
		found  bool
	)
	for addr, t := range w.tracked {
		if !found || t.Before(seen) {
			oldest, seen, found = addr, t, true
		}
	}
	if found {
		delete(w.tracked, oldest)
	}
}

// Enqueue schedules one background check. It gives up when the queue stays
// full for a few seconds.
func (w *SyncWorker) Enqueue(addr common.Address) bool {
	select {
	case <-w.stopChan:
		return false
	default:
	}

	select {
	case w.jobQueue <- addr:
		return true
	case <-w.stopChan:
		return false
	case <-time.After(5 * time.Second):
		w.logger.Warn("sync queue full, dropping job", zap.String("wallet", addr.Hex()))
		return false
	}
}

// SyncTracked enqueues every wallet seen within TrackFor and forgets the rest.
func (w *SyncWorker) SyncTracked() {
	cutoff := w.now().Add(-w.cfg.TrackFor)

	w.mu.Lock()
	wallets := make([]common.Address, 0, len(w.tracked))
	for addr, seen := range w.tracked {
		if seen.Before(cutoff) {
			delete(w.tracked, addr)
			continue
		}
		wallets = append(wallets, addr)
	}
	w.mu.Unlock()

	for _, addr := range wallets {
		if !w.Enqueue(addr) {
			return
		}
	}
	if len(wallets) > 0 {
		w.logger.Info("queued background sync", zap.Int("wallets", len(wallets)))
	}
}

func (w *SyncWorker) worker() {
	defer w.wg.Done()
	for {
		select {
		case addr := <-w.jobQueue:
			w.process(addr)
		case <-w.stopChan:
			return
		}
	}
}

func (w *SyncWorker) process(addr common.Address) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	defer cancel()

	report, err := w.checker.DailyCheck(ctx, session.New(addr))
	if err != nil {
		metrics.SyncRuns.WithLabelValues("failed").Inc()
		w.logger.Warn("background sync failed", zap.String("wallet", addr.Hex()), zap.Error(err))
		return
	}
	metrics.SyncRuns.WithLabelValues("ok").Inc()
	if report.SucceededCount > 0 {
		w.logger.Info("background sync clocked in",
			zap.String("wallet", addr.Hex()),
			zap.Int("succeeded", report.SucceededCount),
			zap.Strings("tx_hashes", report.TxHashes),
		)
	}
}

func (w *SyncWorker) evict() {
	if n := w.today.EvictStale(); n > 0 {
		w.logger.Info("evicted stale completed-today entries", zap.Int("entries", n))
	}
	if p, ok := w.history.(historyPruner); ok {
		if n := p.Prune(w.today.DaysAgo(w.cfg.HistoryDays)); n > 0 {
			w.logger.Info("pruned in-memory history", zap.Int("entries", n))
		}
	}
}

func (w *SyncWorker) every(d time.Duration, fn func()) {
	defer w.wg.Done()
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn()
		case <-w.stopChan:
			return
		}
	}
}

func (w *SyncWorker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("stopping sync worker")
		close(w.stopChan)
		w.wg.Wait()
		w.logger.Info("sync worker stopped")
	})
}
