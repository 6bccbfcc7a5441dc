package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/smallbiznis/billingledger/internal/billingerr"
	"github.com/smallbiznis/billingledger/internal/clock"
	"github.com/smallbiznis/billingledger/internal/events"
	invoicedomain "github.com/smallbiznis/billingledger/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/billingledger/internal/observability/metrics"
	recurringdomain "github.com/smallbiznis/billingledger/internal/recurring/domain"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Recurring  recurringdomain.Service
	Invoices   invoicedomain.Service
	Dispatcher *events.Dispatcher           `optional:"true"`
	Locker     RunLocker                    `optional:"true"`
	Metrics    *obsmetrics.SchedulerMetrics `optional:"true"`
	Config     Config                       `optional:"true"`
}

type Scheduler struct {
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	recurring  recurringdomain.Service
	invoices   invoicedomain.Service
	dispatcher *events.Dispatcher
	locker     RunLocker
	metrics    *obsmetrics.SchedulerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Recurring == nil || p.Invoices == nil {
		return nil, ErrInvalidConfig
	}
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.Scheduler()
	}
	return &Scheduler{
		log:        p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		recurring:  p.Recurring,
		invoices:   p.Invoices,
		dispatcher: p.Dispatcher,
		locker:     p.Locker,
		metrics:    metrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if _, errs := run.counts(); err != nil && errs == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// a timed out job resumes on the next tick
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every enabled job once. Job failures are joined; one failing
// job never stops the others.
func (s *Scheduler) RunOnce(parent context.Context) error {
	ok, release := s.acquireRunLock(parent)
	defer release()
	if !ok {
		s.metrics.IncBatchDeferred("tick", obsmetrics.SchedulerBatchDeferredReasonRunLocked)
		s.log.Debug("scheduler tick skipped, another replica holds the run lock")
		return nil
	}

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobRecurringInvoices, s.isJobEnabled(JobRecurringInvoices), s.RecurringInvoicesJob},
		{JobPastDue, s.isJobEnabled(JobPastDue), s.PastDueJob},
		{JobOutboxDispatch, s.cfg.OutboxEnabled && s.dispatcher != nil && s.isJobEnabled(JobOutboxDispatch), s.OutboxDispatchJob},
	}

	var err error
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		err = errors.Join(err, s.runJob(parent, job.Name, s.cfg.BatchSize, s.cfg.JobTimeout, job.Run))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := time.Now().Add(s.cfg.RunInterval)

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			s.metrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// RecurringInvoicesJob claims due templates under a lease and generates one
// occurrence for each. A failing template is recorded on its row and reported
// without aborting the rest of the batch.
func (s *Scheduler) RecurringInvoicesJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobRecurringInvoices, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	now := s.clock.Now()
	leaseOwner := uuid.NewString()

	lockStart := time.Now()
	templates, claimErr := s.recurring.ClaimDue(ctx, now, leaseOwner, s.cfg.LeaseTTL, s.cfg.BatchSize)
	s.metrics.ObserveDBLockWait(obsmetrics.LockResourceRecurringTemplates, time.Since(lockStart))
	if claimErr != nil {
		s.logSchedulerError(ctx, run, "scheduler.recurring.claim.failed", JobRecurringInvoices, 0, claimErr)
		if len(templates) == 0 {
			return claimErr
		}
	}
	if len(templates) == 0 {
		return nil
	}

	var (
		mu        sync.Mutex
		failures  error
		generated int
	)
	p := pool.New().WithMaxGoroutines(s.cfg.Workers)
	for _, template := range templates {
		template := template
		p.Go(func() {
			err := s.generateOne(ctx, run, template, leaseOwner, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = errors.Join(failures, fmt.Errorf("recurring invoice %s: %w", template.ID, err))
				return
			}
			generated++
		})
	}
	p.Wait()

	run.AddProcessed(generated)
	s.metrics.AddBatchProcessed(JobRecurringInvoices, obsmetrics.LockResourceRecurringTemplates, generated)
	if failures != nil {
		failures = errors.Join(obsmetrics.ErrPartialFailure, failures)
	}
	return errors.Join(claimErr, failures)
}

func (s *Scheduler) generateOne(ctx context.Context, run *jobRun, template recurringdomain.RecurringInvoice, leaseOwner string, now time.Time) error {
	tenantCtx := s.withTenant(ctx, template.TenantID)
	_, genErr := s.recurring.GenerateNext(tenantCtx, template.ID, now)
	if genErr != nil {
		s.metrics.IncTemplateFailure(templateFailureReason(genErr))
		s.logSchedulerError(ctx, run, "scheduler.recurring.generate.failed", JobRecurringInvoices, template.TenantID, genErr,
			zap.String("recurring_invoice_id", idString(template.ID)),
		)
	}

	// release with a context that outlives a job timeout so the lease is not left dangling
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(tenantCtx), 5*time.Second)
	defer cancel()
	if err := s.recurring.Release(releaseCtx, template, leaseOwner, genErr); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.recurring.release.failed", JobRecurringInvoices, template.TenantID, err,
			zap.String("recurring_invoice_id", idString(template.ID)),
		)
		return errors.Join(genErr, err)
	}
	return genErr
}

func templateFailureReason(err error) string {
	if billingerr.IsBusiness(err) {
		return billingerr.KindOf(err)
	}
	return obsmetrics.ClassifySchedulerJobReason(err)
}

// PastDueJob flags issued invoices whose due date has passed.
func (s *Scheduler) PastDueJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobPastDue, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	marked, err := s.invoices.MarkPastDue(ctx, s.clock.Now(), s.cfg.BatchSize)
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.past_due.failed", JobPastDue, 0, err)
		return err
	}
	run.AddProcessed(marked)
	s.metrics.AddBatchProcessed(JobPastDue, "invoices", marked)
	return nil
}

// OutboxDispatchJob hands committed billing events to the notifier.
func (s *Scheduler) OutboxDispatchJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, JobOutboxDispatch, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if s.dispatcher == nil {
		return nil
	}

	lockStart := time.Now()
	result, err := s.dispatcher.DispatchPending(ctx, s.cfg.BatchSize)
	s.metrics.ObserveDBLockWait(obsmetrics.LockResourceOutboxEvents, time.Since(lockStart))
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.outbox.dispatch.failed", JobOutboxDispatch, 0, err)
		return err
	}
	run.AddProcessed(result.Delivered)
	for i := 0; i < result.Failed; i++ {
		run.IncError()
	}
	s.metrics.AddBatchProcessed(JobOutboxDispatch, obsmetrics.LockResourceOutboxEvents, result.Delivered)
	return nil
}
