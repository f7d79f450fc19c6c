package worker

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/sequence-engine/internal/delivery"
	"github.com/ignite/sequence-engine/internal/dispatch"
)

const (
	// DefaultPollInterval is how often the worker polls for due work items.
	DefaultPollInterval = 15 * time.Second

	// DefaultClaimBatch is how many due work items to claim per poll.
	DefaultClaimBatch = 500

	// stuckAge is how long a claimed work item may sit before another
	// worker reclaims it.
	stuckAge = 10 * time.Minute
)

// workQueue is the slice of the dispatch scheduler the worker consumes.
// *dispatch.PostgresScheduler satisfies it.
type workQueue interface {
	ClaimDue(ctx context.Context, workerID string, limit int) ([]dispatch.Job, error)
	MarkDone(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID, reason string) error
	ReclaimStuck(ctx context.Context, age time.Duration) (int, error)
}

// completer runs the auto-completion check for one campaign.
type completer interface {
	CompleteIfFinished(ctx context.Context, id string) (bool, error)
}

// suppressions is the pre-send do-not-mail check.
type suppressions interface {
	IsSuppressed(ctx context.Context, email string) (bool, error)
}

// coverage schedules a campaign's still-uncovered contacts. Step jobs run
// it so a horizon-cut distribution picks up its tail on later passes.
type coverage interface {
	ExtendCoverage(ctx context.Context, campaignID string) error
}

// DispatchWorker drains due work items: message jobs go out through the
// delivery sender, step jobs extend contact coverage and re-run the
// campaign's completion check.
// Multiple workers can run concurrently; claims use row locks so no item is
// processed twice.
type DispatchWorker struct {
	db         *sql.DB
	queue      workQueue
	sender     delivery.Sender
	progress   completer
	suppressed suppressions
	coverage   coverage

	workerID     string
	pollInterval time.Duration
	claimBatch   int

	// Stats
	jobsProcessed int64
	messagesSent  int64
	messagesExpnd int64 // failed or suppressed
	errors        int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewDispatchWorker creates a dispatch worker.
func NewDispatchWorker(db *sql.DB, queue workQueue, sender delivery.Sender, progress completer, supp suppressions) *DispatchWorker {
	return &DispatchWorker{
		db:           db,
		queue:        queue,
		sender:       sender,
		progress:     progress,
		suppressed:   supp,
		workerID:     fmt.Sprintf("dispatch-%s-%d", hostname(), time.Now().UnixNano()%10000),
		pollInterval: DefaultPollInterval,
		claimBatch:   DefaultClaimBatch,
	}
}

// SetCoverage installs the campaign service hook that step jobs use to
// schedule contacts a partial distribution left uncovered.
func (w *DispatchWorker) SetCoverage(c coverage) {
	w.coverage = c
}

// SetPollInterval overrides the poll cadence.
func (w *DispatchWorker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// SetClaimBatch overrides the per-poll claim size.
func (w *DispatchWorker) SetClaimBatch(n int) {
	if n > 0 {
		w.claimBatch = n
	}
}

// Start begins the polling loops.
func (w *DispatchWorker) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("dispatch worker already running")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(context.Background())
	w.mu.Unlock()

	log.Printf("[DispatchWorker] Starting %s (poll %v, batch %d)", w.workerID, w.pollInterval, w.claimBatch)
	w.register()

	w.wg.Add(3)
	go w.pollLoop()
	go w.reclaimLoop()
	go w.heartbeatLoop()
	return nil
}

// Stop drains the loops and deregisters the worker.
func (w *DispatchWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	log.Printf("[DispatchWorker] Stopping %s...", w.workerID)
	w.cancel()
	w.wg.Wait()
	w.deregister()
	log.Printf("[DispatchWorker] Stopped. Jobs: %d, Sent: %d, Failed: %d",
		atomic.LoadInt64(&w.jobsProcessed),
		atomic.LoadInt64(&w.messagesSent),
		atomic.LoadInt64(&w.messagesExpnd))
}

func (w *DispatchWorker) pollLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.drainDue()
		}
	}
}

// drainDue claims and processes one batch of due work items.
func (w *DispatchWorker) drainDue() {
	ctx, cancel := context.WithTimeout(w.ctx, 2*time.Minute)
	defer cancel()

	jobs, err := w.queue.ClaimDue(ctx, w.workerID, w.claimBatch)
	if err != nil {
		log.Printf("[DispatchWorker] Claim failed: %v", err)
		atomic.AddInt64(&w.errors, 1)
		return
	}
	for _, job := range jobs {
		w.processJob(ctx, job)
		atomic.AddInt64(&w.jobsProcessed, 1)
	}
}

func (w *DispatchWorker) processJob(ctx context.Context, job dispatch.Job) {
	var err error
	switch job.Kind {
	case dispatch.JobMessage:
		err = w.processMessage(ctx, job)
	case dispatch.JobStep:
		err = w.processStep(ctx, job)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}

	if err != nil {
		atomic.AddInt64(&w.errors, 1)
		log.Printf("[DispatchWorker] Job %s (%s) failed: %v", job.ID, job.Kind, err)
		if mfErr := w.queue.MarkFailed(ctx, job.ID, err.Error()); mfErr != nil {
			log.Printf("[DispatchWorker] Mark job %s failed: %v", job.ID, mfErr)
		}
		return
	}
	if err := w.queue.MarkDone(ctx, job.ID); err != nil {
		log.Printf("[DispatchWorker] Mark job %s done: %v", job.ID, err)
	}
}

// processMessage delivers one email. The QUEUED -> SENDING flip is the
// claim: a message that was cancelled or already picked up matches nothing
// and the job completes as a no-op.
func (w *DispatchWorker) processMessage(ctx context.Context, job dispatch.Job) error {
	var campaignID, stepID, contactID string
	err := w.db.QueryRowContext(ctx, `
		UPDATE email_messages SET status = 'sending'
		WHERE id = $1 AND status = 'queued'
		RETURNING campaign_id, step_id, contact_id
	`, job.MessageID).Scan(&campaignID, &stepID, &contactID)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim message %s: %w", job.MessageID, err)
	}

	// The campaign may have paused or cancelled after this job was
	// enqueued. Its CancelPending pass races with our claim, so re-check
	// and put the message back where that pass would have left it.
	var campaignStatus string
	if err := w.db.QueryRowContext(ctx,
		`SELECT status FROM campaigns WHERE id = $1`, campaignID,
	).Scan(&campaignStatus); err != nil {
		return fmt.Errorf("check campaign %s: %w", campaignID, err)
	}
	if campaignStatus != "active" {
		_, err := w.db.ExecContext(ctx,
			`UPDATE email_messages SET status = 'cancelled' WHERE id = $1`, job.MessageID)
		if err != nil {
			return fmt.Errorf("cancel message %s: %w", job.MessageID, err)
		}
		w.bumpCounter(ctx, campaignID, "cancelled_count")
		return nil
	}

	var email, templateID string
	err = w.db.QueryRowContext(ctx, `
		SELECT c.email, COALESCE(s.template_id::text, '')
		FROM contacts c, campaign_steps s
		WHERE c.id = $1 AND s.id = $2
	`, contactID, stepID).Scan(&email, &templateID)
	if err != nil {
		w.markMessage(ctx, job.MessageID, "failed", campaignID)
		return fmt.Errorf("load message %s context: %w", job.MessageID, err)
	}

	if w.suppressed != nil {
		supp, err := w.suppressed.IsSuppressed(ctx, email)
		if err != nil {
			log.Printf("[DispatchWorker] Suppression check for message %s failed, sending anyway: %v",
				job.MessageID, err)
		} else if supp {
			w.markMessage(ctx, job.MessageID, "failed", campaignID)
			w.checkCompletion(ctx, campaignID)
			return nil
		}
	}

	_, sendErr := w.sender.Send(ctx, delivery.SendRequest{
		To:         email,
		TemplateID: templateID,
		CampaignID: campaignID,
		MessageID:  job.MessageID,
	})
	if sendErr != nil {
		w.markMessage(ctx, job.MessageID, "failed", campaignID)
		w.checkCompletion(ctx, campaignID)
		return fmt.Errorf("deliver message %s: %w", job.MessageID, sendErr)
	}

	w.markMessage(ctx, job.MessageID, "sent", campaignID)
	atomic.AddInt64(&w.messagesSent, 1)
	w.checkCompletion(ctx, campaignID)
	return nil
}

// processStep extends the campaign's contact coverage and then re-runs the
// completion check. Step jobs fire at activation (or at the schedule time),
// and again at the next day start after a horizon-cut distribution, so the
// unallocated tail is scheduled as soon as quota days free up.
func (w *DispatchWorker) processStep(ctx context.Context, job dispatch.Job) error {
	if w.coverage != nil {
		if err := w.coverage.ExtendCoverage(ctx, job.CampaignID); err != nil {
			return fmt.Errorf("extend coverage for campaign %s: %w", job.CampaignID, err)
		}
	}
	w.checkCompletion(ctx, job.CampaignID)
	return nil
}

// markMessage sets a terminal message status and bumps the matching
// campaign progress counter.
func (w *DispatchWorker) markMessage(ctx context.Context, messageID, status, campaignID string) {
	q := `UPDATE email_messages SET status = $2 WHERE id = $1`
	if status == "sent" {
		q = `UPDATE email_messages SET status = $2, sent_at = NOW() WHERE id = $1`
	}
	if _, err := w.db.ExecContext(ctx, q, messageID, status); err != nil {
		log.Printf("[DispatchWorker] Mark message %s %s: %v", messageID, status, err)
		return
	}

	counter := "failed_count"
	if status == "sent" {
		counter = "sent_count"
	} else {
		atomic.AddInt64(&w.messagesExpnd, 1)
	}
	w.bumpCounter(ctx, campaignID, counter)
}

func (w *DispatchWorker) bumpCounter(ctx context.Context, campaignID, column string) {
	// column is one of our own literals, never caller input.
	q := fmt.Sprintf(`UPDATE campaigns SET %s = %s + 1, updated_at = NOW() WHERE id = $1`, column, column)
	if _, err := w.db.ExecContext(ctx, q, campaignID); err != nil {
		log.Printf("[DispatchWorker] Bump %s for campaign %s: %v", column, campaignID, err)
	}
}

func (w *DispatchWorker) checkCompletion(ctx context.Context, campaignID string) {
	done, err := w.progress.CompleteIfFinished(ctx, campaignID)
	if err != nil {
		log.Printf("[DispatchWorker] Completion check for campaign %s: %v", campaignID, err)
		return
	}
	if done {
		log.Printf("[DispatchWorker] Campaign %s completed", campaignID)
	}
}

// reclaimLoop returns work items stuck in claimed state to the pool, so a
// crashed worker's claims are not lost.
func (w *DispatchWorker) reclaimLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(w.ctx, 30*time.Second)
			n, err := w.queue.ReclaimStuck(ctx, stuckAge)
			cancel()
			if err != nil {
				log.Printf("[DispatchWorker] Reclaim stuck items: %v", err)
			} else if n > 0 {
				log.Printf("[DispatchWorker] Reclaimed %d stuck work items", n)
			}
		}
	}
}

func (w *DispatchWorker) register() {
	_, err := w.db.Exec(`
		INSERT INTO sequence_workers (id, worker_type, hostname, status, started_at, last_heartbeat_at)
		VALUES ($1, 'dispatch', $2, 'running', NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET status = 'running', last_heartbeat_at = NOW()
	`, w.workerID, hostname())
	if err != nil {
		log.Printf("[DispatchWorker] Warning: failed to register worker: %v", err)
	}
}

func (w *DispatchWorker) deregister() {
	_, err := w.db.Exec(`UPDATE sequence_workers SET status = 'stopped' WHERE id = $1`, w.workerID)
	if err != nil {
		log.Printf("[DispatchWorker] Warning: failed to deregister worker: %v", err)
	}
}

func (w *DispatchWorker) heartbeatLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.heartbeat()
		}
	}
}

func (w *DispatchWorker) heartbeat() {
	_, err := w.db.Exec(`
		UPDATE sequence_workers
		SET last_heartbeat_at = NOW(), metadata = $2
		WHERE id = $1
	`, w.workerID, fmt.Sprintf(`{"jobs_processed": %d, "messages_sent": %d, "messages_failed": %d, "errors": %d}`,
		atomic.LoadInt64(&w.jobsProcessed),
		atomic.LoadInt64(&w.messagesSent),
		atomic.LoadInt64(&w.messagesExpnd),
		atomic.LoadInt64(&w.errors)))
	if err != nil {
		log.Printf("[DispatchWorker] Warning: heartbeat failed: %v", err)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
