package janitor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"codejanitor/internal/bootstrap/logging"
	"codejanitor/internal/errs"
)

var ErrSchedulerRunning = errors.New("scheduler already running")

// CycleResult summarizes one scheduler pass.
type CycleResult struct {
	CycleID    string          `json:"cycle_id"`
	StartedAt  string          `json:"started_at"`
	FinishedAt string          `json:"finished_at"`
	Recovered  int             `json:"recovered"`
	Sync       SyncResult      `json:"sync"`
	Reconcile  ReconcileResult `json:"reconcile"`
	Attempted  int             `json:"attempted"`
	Opened     int             `json:"opened"`
	Failed     int             `json:"failed"`
	Errors     []string        `json:"errors,omitempty"`
}

// Scheduler runs RunCycle every poll interval until stopped.
type Scheduler struct {
	svc *Service

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(svc *Service) *Scheduler {
	return &Scheduler{svc: svc}
}

// Start launches the polling loop in the background. The loop outlives ctx;
// call Stop to end it.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s.svc == nil {
		return errors.New("janitor service is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrSchedulerRunning
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	loopCtx = logging.WithAttrs(loopCtx, slog.String("component", "usecase.janitor.scheduler"))
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	interval := s.svc.settings.PollInterval
	logging.Info(loopCtx, "scheduler started",
		slog.Duration("poll_interval", interval),
		slog.Bool("auto_fix", s.svc.settings.AutoFix),
	)

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if _, err := s.RunCycle(loopCtx); err != nil && loopCtx.Err() == nil {
				logging.Error(loopCtx, "scheduler cycle failed", slog.Any("err", errs.Loggable(err)))
			}
			select {
			case <-loopCtx.Done():
				logging.Info(loopCtx, "scheduler stopped")
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

// Stop cancels the loop and waits for the running cycle to unwind, or for
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errs.Wrap(ctx.Err(), "wait for scheduler stop")
	}
}

// RunCycle recovers orphaned attempts, syncs the project, settles open change
// requests and, with auto fix on, attempts the issues this cycle discovered.
// Every step runs even when an earlier one failed; the errors are joined.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	if ctx == nil {
		return CycleResult{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return CycleResult{}, errs.Wrap(err, "check context")
	}

	svc := s.svc
	started := svc.now()
	result := CycleResult{
		CycleID:   uuid.NewString(),
		StartedAt: started.UTC().Format(time.RFC3339Nano),
	}
	ctx = logging.WithAttrs(ctx, slog.String("cycle_id", result.CycleID))
	cycleCtx, cancel := context.WithTimeout(ctx, svc.settings.CycleTimeout)
	defer cancel()

	var cycleErrs []error
	record := func(step string, err error) {
		if err == nil {
			return
		}
		err = errs.Wrap(err, step)
		cycleErrs = append(cycleErrs, err)
		result.Errors = append(result.Errors, err.Error())
		logging.Warn(ctx, "scheduler step failed", slog.String("step", step), slog.Any("err", errs.Loggable(err)))
	}

	recovered, err := svc.RecoverOrphanedAttempts(cycleCtx)
	result.Recovered = len(recovered.Recovered)
	record("recover", err)

	result.Sync, err = svc.SyncIssues(cycleCtx, svc.settings.ProjectKey)
	record("sync", err)

	if svc.sourceControl == nil {
		logging.Debug(ctx, "source control not configured, skipping reconcile")
	} else {
		result.Reconcile, err = svc.ReconcileChangeRequests(cycleCtx)
		record("reconcile", err)
	}

	if svc.settings.AutoFix && len(result.Sync.CreatedIDs) > 0 {
		record("auto fix", s.autoFix(ctx, cycleCtx, result.Sync.CreatedIDs, &result))
	}

	finished := svc.now()
	result.FinishedAt = finished.UTC().Format(time.RFC3339Nano)
	cycleErr := errors.Join(cycleErrs...)

	if svc.metrics != nil {
		svc.metrics.ObserveCycle(finished.Sub(started), cycleErr)
	}
	if raw, err := json.Marshal(result); err == nil {
		svc.setCacheBestEffort(context.WithoutCancel(ctx), cacheLastCycleKey, string(raw))
	}
	logging.Info(ctx, "scheduler cycle completed",
		slog.Int("recovered", result.Recovered),
		slog.Int("new_issues", result.Sync.NewIssues),
		slog.Int("attempted", result.Attempted),
		slog.Int("opened", result.Opened),
		slog.Int("errors", len(result.Errors)),
	)
	return result, cycleErr
}

// autoFix dispatches attempts for freshly detected issues. A dispatch slot is
// acquired under cycleCtx, so nothing starts once the cycle budget runs out;
// attempts already started finish under ctx so none is cut off between its
// claim and its final write.
func (s *Scheduler) autoFix(ctx context.Context, cycleCtx context.Context, issueIDs []uint64, result *CycleResult) error {
	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	slots := semaphore.NewWeighted(int64(s.svc.settings.MaxConcurrent))

	for idx, issueID := range issueIDs {
		if err := slots.Acquire(cycleCtx, 1); err != nil {
			logging.Warn(ctx, "cycle budget exhausted, deferring remaining fixes", slog.Int("deferred", len(issueIDs)-idx))
			break
		}
		mu.Lock()
		result.Attempted++
		mu.Unlock()

		group.Go(func() error {
			defer slots.Release(1)
			fix, err := s.svc.TriggerFix(groupCtx, issueID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				logging.Warn(ctx, "auto fix failed", slog.Uint64("issue_id", issueID), slog.Any("err", errs.Loggable(err)))
			case fix.Accepted && fix.ChangeRequestURL != "" && fix.Error == "":
				result.Opened++
			case fix.Accepted:
				result.Failed++
			}
			return nil
		})
	}
	return group.Wait()
}
