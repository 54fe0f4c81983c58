// Package worker runs the delivery daemon: the processing, health and
// cleanup loops that drive notifications from pending to a terminal state.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/insider-one/notification-engine/internal/channel"
	"github.com/insider-one/notification-engine/internal/dispatcher"
	"github.com/insider-one/notification-engine/internal/domain"
	"github.com/insider-one/notification-engine/internal/service"
)

// State is the daemon lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateError    State = "error"
)

// Config tunes the daemon's loops.
type Config struct {
	PollingInterval           time.Duration
	BatchSize                 int
	CriticalPriorityBatchSize int
	MaxConcurrentDeliveries   int
	ProcessingTimeout         time.Duration
	HealthCheckInterval       time.Duration
	CleanupSchedule           string // cron expression, e.g. "0 */6 * * *"
	AuditRetentionDays        int
	AutoMarkReadAfterDays     int
	SecurityScanWindow        time.Duration
	GracefulShutdownTimeout   time.Duration
	DispatchMode              dispatcher.Mode
}

func DefaultConfig() Config {
	return Config{
		PollingInterval:           5 * time.Second,
		BatchSize:                 50,
		CriticalPriorityBatchSize: 10,
		MaxConcurrentDeliveries:   10,
		ProcessingTimeout:         30 * time.Second,
		HealthCheckInterval:       30 * time.Second,
		CleanupSchedule:           "0 */6 * * *",
		AuditRetentionDays:        90,
		AutoMarkReadAfterDays:     7,
		SecurityScanWindow:        24 * time.Hour,
		GracefulShutdownTimeout:   20 * time.Second,
		DispatchMode:              dispatcher.ModeFireAndForget,
	}
}

// Daemon drives notification delivery end to end.
type Daemon struct {
	cfg         Config
	repo        domain.NotificationRepository
	history     domain.HistoryRepository
	audit       domain.AuditRepository
	inApp       domain.InAppRepository
	security    *service.AuditService
	registry    *channel.Registry
	dispatcher  *dispatcher.Dispatcher
	escalations *dispatcher.EscalationQueue
	logger      *slog.Logger

	// onHistoryInsert is invoked with a recipient's user id after new
	// delivery attempts are recorded, so the analytics cache for that user
	// can be invalidated.
	onHistoryInsert func(userID string)

	mu    sync.Mutex
	state State

	cancel context.CancelFunc
	wg     sync.WaitGroup
	cron   *cron.Cron

	consecutiveBatchFailures int
	avgBatchDuration         time.Duration
}

func NewDaemon(
	cfg Config,
	repo domain.NotificationRepository,
	history domain.HistoryRepository,
	audit domain.AuditRepository,
	inApp domain.InAppRepository,
	security *service.AuditService,
	registry *channel.Registry,
	disp *dispatcher.Dispatcher,
	escalations *dispatcher.EscalationQueue,
	logger *slog.Logger,
) *Daemon {
	return &Daemon{
		cfg:         cfg,
		repo:        repo,
		history:     history,
		audit:       audit,
		inApp:       inApp,
		security:    security,
		registry:    registry,
		dispatcher:  disp,
		escalations: escalations,
		logger:      logger,
		state:       StateStopped,
	}
}

// SetOnHistoryInsert wires the analytics-cache invalidation hook.
func (d *Daemon) SetOnHistoryInsert(fn func(userID string)) {
	d.onHistoryInsert = fn
}

func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Start brings the daemon from stopped to running, launching the three
// concurrent processing, escalation and cleanup loops. Calling Start while already running
// is a no-op.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.state == StateRunning || d.state == StateStarting {
		d.mu.Unlock()
		return nil
	}
	d.state = StateStarting
	d.mu.Unlock()

	d.registry.StartHealthLoop(d.cfg.HealthCheckInterval)

	// The loop context deliberately doesn't inherit from the caller's ctx:
	// a restart triggered from an HTTP handler must not die with the request.
	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	d.cron = cron.New()
	if _, err := d.cron.AddFunc(d.cfg.CleanupSchedule, func() { d.runCleanup(runCtx) }); err != nil {
		d.logger.Error("failed to schedule cleanup loop", "error", err)
	}
	d.cron.Start()

	d.wg.Add(1)
	go d.processingLoop(runCtx)

	d.wg.Add(1)
	go d.escalationLoop(runCtx)

	d.mu.Lock()
	d.state = StateRunning
	d.mu.Unlock()

	d.logger.Info("delivery daemon started",
		"polling_interval", d.cfg.PollingInterval,
		"batch_size", d.cfg.BatchSize,
		"max_concurrent_deliveries", d.cfg.MaxConcurrentDeliveries,
	)
	return nil
}

// Stop brings the daemon to stopped: it cancels the loop context, which also
// cancels in-flight deliveries, and then waits up to GracefulShutdownTimeout
// for the loops to return. In-flight work is not left to finish before the
// cancel. Calling Stop twice is a no-op after the first call completes.
func (d *Daemon) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.state == StateStopped || d.state == StateStopping {
		d.mu.Unlock()
		return
	}
	d.state = StateStopping
	d.mu.Unlock()

	if d.cron != nil {
		cronCtx := d.cron.Stop()
		<-cronCtx.Done()
	}

	if d.cancel != nil {
		d.cancel()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d.cfg.GracefulShutdownTimeout):
		d.logger.Warn("delivery daemon shutdown timed out, some work left in-flight")
	}

	d.registry.Stop(ctx)

	d.mu.Lock()
	d.state = StateStopped
	d.mu.Unlock()

	d.logger.Info("delivery daemon stopped")
}

func (d *Daemon) processingLoop(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.pollDelay()):
			d.runBatch(ctx)
		}
	}
}

// pollDelay doubles the polling interval after three consecutive batch
// failures so a broken store isn't hammered at full cadence.
func (d *Daemon) pollDelay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.consecutiveBatchFailures >= 3 {
		return d.cfg.PollingInterval * 2
	}
	return d.cfg.PollingInterval
}

// escalationLoop polls the deferred escalation queue on the same
// cadence as the delivery loop, running any job whose delay_minutes has
// elapsed.
func (d *Daemon) escalationLoop(ctx context.Context) {
	defer d.wg.Done()

	if d.escalations == nil {
		return
	}

	ticker := time.NewTicker(d.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runEscalations(ctx)
		}
	}
}

func (d *Daemon) runEscalations(ctx context.Context) {
	due := d.escalations.Due(time.Now().UTC())
	for _, job := range due {
		n, err := d.repo.GetByID(ctx, job.NotificationID)
		if err != nil {
			d.logger.Error("escalation: failed to load notification", "notification_id", job.NotificationID, "error", err)
			continue
		}
		outcomes := d.dispatcher.RunEscalation(ctx, n, job)

		escalated := false
		for _, o := range outcomes {
			if o.Success {
				escalated = true
				break
			}
		}
		if escalated && n.Status != domain.StatusDelivered {
			n.MarkDelivered()
			if err := d.repo.Update(ctx, n); err != nil {
				d.logger.Error("escalation: failed to persist delivered status", "notification_id", n.ID, "error", err)
			}
		}
		d.logger.Info("ran deferred escalation", "notification_id", n.ID, "rule", job.RuleName, "delivered", escalated)
	}
}

func (d *Daemon) runBatch(ctx context.Context) {
	batchCtx, cancel := context.WithTimeout(ctx, d.cfg.ProcessingTimeout)
	defer cancel()

	start := time.Now()

	now := time.Now().UTC()
	items, err := d.repo.GetPendingBatch(batchCtx, d.cfg.CriticalPriorityBatchSize, d.cfg.BatchSize, now)
	if err != nil {
		d.onBatchFailure(err)
		return
	}
	retries, err := d.repo.GetDueRetries(batchCtx, now, d.cfg.BatchSize)
	if err != nil {
		d.onBatchFailure(err)
		return
	}
	items = append(items, retries...)

	if len(items) == 0 {
		return
	}

	sem := make(chan struct{}, d.cfg.MaxConcurrentDeliveries)
	var wg sync.WaitGroup
	for _, n := range items {
		n := n
		select {
		case sem <- struct{}{}:
		case <-batchCtx.Done():
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			d.processOne(batchCtx, n)
		}()
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-batchCtx.Done():
		// Batch deadline hit; unfinished items remain pending and are
		// picked up by the next poll.
	}

	elapsed := time.Since(start)
	d.mu.Lock()
	d.consecutiveBatchFailures = 0
	if d.avgBatchDuration == 0 {
		d.avgBatchDuration = elapsed
	} else {
		d.avgBatchDuration = (d.avgBatchDuration + elapsed) / 2
	}
	d.mu.Unlock()
}

func (d *Daemon) onBatchFailure(err error) {
	d.mu.Lock()
	d.consecutiveBatchFailures++
	failures := d.consecutiveBatchFailures
	d.mu.Unlock()

	d.logger.Error("batch fetch failed", "error", err, "consecutive_failures", failures)
	if failures >= 3 {
		d.logger.Warn("backing off processing loop after repeated batch failures")
	}
}

func (d *Daemon) processOne(ctx context.Context, n *domain.Notification) {
	if n.IsExpired(time.Now().UTC()) {
		n.MarkCancelled()
		_ = d.repo.Update(ctx, n)
		return
	}

	ok, err := d.repo.CompareAndSwapStatus(ctx, n.ID, n.Status, domain.StatusProcessing)
	if err != nil || !ok {
		// Lost the race to another worker; skip, it's already being handled.
		return
	}
	n.MarkProcessing()

	result := d.dispatcher.Dispatch(ctx, n, d.cfg.DispatchMode, time.Now().UTC())

	d.recordAttempts(ctx, result)

	switch {
	case result.NextStatus == domain.StatusDelivered:
		n.MarkDelivered()
		if d.security != nil {
			d.security.Log(ctx, domain.AuditEventDelivered, "system", &n.ID, map[string]any{
				"recipient_count": len(n.Recipients),
			})
		}
	case result.NextStatus == domain.StatusFailed || !n.CanRetry():
		n.MarkFailed(summarizeErrors(result))
		if d.security != nil {
			d.security.Log(ctx, domain.AuditEventFailed, "system", &n.ID, summarizeErrors(result))
		}
	default:
		n.MarkPendingForRetry(time.Now().UTC().Add(d.retryDelay(n)), summarizeLastError(result))
	}

	if err := d.repo.Update(ctx, n); err != nil {
		d.logger.Error("failed to persist notification outcome", "notification_id", n.ID, "error", err)
	}
}

// recordAttempts persists every channel attempt the dispatch produced and
// invalidates the affected recipients' analytics caches.
func (d *Daemon) recordAttempts(ctx context.Context, result dispatcher.Result) {
	if d.history == nil {
		return
	}
	for _, o := range result.Outcomes {
		for _, attempt := range o.Attempts {
			if err := d.history.RecordAttempt(ctx, attempt); err != nil {
				d.logger.Error("failed to record delivery attempt",
					"notification_id", attempt.NotificationID, "channel", attempt.Channel, "error", err)
			}
		}
		if len(o.Attempts) > 0 && d.onHistoryInsert != nil {
			d.onHistoryInsert(o.Recipient.UserID)
		}
	}
}

// retryDelay grows the notification-level re-dispatch delay with the
// record's own backoff multiplier, capped at ten minutes.
func (d *Daemon) retryDelay(n *domain.Notification) time.Duration {
	mult := n.RetryMeta.BackoffMultiplier
	if mult < 1 {
		mult = 2
	}
	delay := 30 * time.Second
	for i := 0; i < n.RetryMeta.CurrentAttempt; i++ {
		delay = time.Duration(float64(delay) * mult)
	}
	if delay > 10*time.Minute {
		delay = 10 * time.Minute
	}
	return delay
}

func summarizeErrors(r dispatcher.Result) map[string]any {
	out := map[string]any{}
	for _, o := range r.Outcomes {
		for ch, err := range o.ChannelErrors {
			out[string(ch)] = err.Message
		}
	}
	return out
}

func summarizeLastError(r dispatcher.Result) string {
	for _, o := range r.Outcomes {
		for _, err := range o.ChannelErrors {
			return err.Message
		}
	}
	return ""
}

// runCleanup is the cron-scheduled maintenance pass: audit retention,
// in-app expiry/auto-read sweeps, and a periodic security event scan.
func (d *Daemon) runCleanup(ctx context.Context) {
	now := time.Now().UTC()
	auditCutoff := now.AddDate(0, 0, -d.cfg.AuditRetentionDays)
	d.logger.Info("running delivery daemon cleanup", "audit_cutoff", auditCutoff)

	if d.audit != nil {
		deleted, err := d.audit.DeleteOlderThan(ctx, auditCutoff)
		if err != nil {
			d.logger.Error("audit retention cleanup failed", "error", err)
		} else if deleted > 0 {
			d.logger.Info("purged expired audit entries", "count", deleted)
		}
	}

	if d.inApp != nil {
		expired, err := d.inApp.DeleteExpired(ctx, now)
		if err != nil {
			d.logger.Error("in-app expiry cleanup failed", "error", err)
		} else if expired > 0 {
			d.logger.Info("purged expired in-app items", "count", expired)
		}

		readCutoff := now.AddDate(0, 0, -d.cfg.AutoMarkReadAfterDays)
		autoRead, err := d.inApp.AutoMarkRead(ctx, readCutoff)
		if err != nil {
			d.logger.Error("in-app auto-mark-read cleanup failed", "error", err)
		} else if autoRead > 0 {
			d.logger.Info("auto-marked stale in-app items read", "count", autoRead)
		}
	}

	if d.security != nil {
		since := now.Add(-d.cfg.SecurityScanWindow)
		events, err := d.security.ScanForSecurityEvents(ctx, since)
		if err != nil {
			d.logger.Error("security event scan failed", "error", err)
		} else if len(events) > 0 {
			d.logger.Warn("security events detected during cleanup scan", "count", len(events))
		}
	}
}
