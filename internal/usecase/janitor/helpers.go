package janitor

import (
	"context"
	"encoding/json"
	"time"

	domainjanitor "codejanitor/internal/domain/janitor"
	"codejanitor/internal/errs"
	"codejanitor/internal/ports"
)

func (s *Service) nowUTCString() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// transitionTx swaps the persisted status and appends the event that the
// state machine pairs with it. Both writes join the caller's transaction.
// applied is false when the issue was no longer in change.From.
func (s *Service) transitionTx(ctx context.Context, change ports.StatusChange, message string, metadata *string) (ports.Event, bool, error) {
	kind, err := domainjanitor.TransitionEvent(change.From, change.To)
	if err != nil {
		return ports.Event{}, false, err
	}

	applied, err := s.repo.CompareAndSwapStatus(ctx, change)
	if err != nil || !applied {
		return ports.Event{}, false, err
	}

	event, err := s.repo.AppendEvent(ctx, ports.EventCreate{
		IssueID:   change.IssueID,
		Kind:      kind,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: change.UpdatedAt,
	})
	if err != nil {
		return ports.Event{}, false, err
	}
	return event, true, nil
}

// transition runs transitionTx in its own transaction.
func (s *Service) transition(ctx context.Context, change ports.StatusChange, message string, metadata *string) (ports.Event, bool, error) {
	var (
		event   ports.Event
		applied bool
	)
	err := s.uow.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		event, applied, err = s.transitionTx(txCtx, change, message, metadata)
		return err
	})
	return event, applied, err
}

func encodeMetadata(meta domainjanitor.ErrorMetadata) (*string, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, errs.Wrap(err, "marshal error metadata")
	}
	encoded := string(raw)
	return &encoded, nil
}

func derefString(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func cacheLastSyncKey(projectKey string) string {
	return "sync:last_run:" + projectKey
}

const cacheLastCycleKey = "scheduler:last_cycle"
