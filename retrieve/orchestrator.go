// Package retrieve implements the C-MOVE retrieve orchestration: destination
// resolution, candidate selection, and the sequential instance transfer loop,
// reported as a stream of progress events.
package retrieve

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/caio-sobreiro/pacsnode/dimse"
	dicomerrors "github.com/caio-sobreiro/pacsnode/errors"
	"github.com/caio-sobreiro/pacsnode/interfaces"
	"github.com/caio-sobreiro/pacsnode/metrics"
	"github.com/caio-sobreiro/pacsnode/query"
	"github.com/caio-sobreiro/pacsnode/types"
)

// Destination is a known C-MOVE destination, keyed by AE title in the
// orchestrator's registry.
type Destination struct {
	Host string
	Port int
}

// Request describes one retrieve: where to send and what to select.
type Request struct {
	// DestinationAETitle names the receiving AE. It must resolve through
	// the destination registry; there is no fallback addressing.
	DestinationAETitle string

	// Query selects the instances to transfer.
	Query *types.QueryRequest
}

// Orchestrator drives retrieves: it resolves the destination, counts the
// candidates, then streams instances over a fresh session per instance,
// emitting an Event per state change.
type Orchestrator struct {
	store        interfaces.InstanceStore
	matcher      *query.Matcher
	opener       interfaces.SessionOpener
	destinations map[string]Destination
	capabilities []string
	logger       *slog.Logger
}

// NewOrchestrator builds an orchestrator. capabilities is the set of SOP
// class UIDs proposed on outbound associations.
func NewOrchestrator(
	store interfaces.InstanceStore,
	matcher *query.Matcher,
	opener interfaces.SessionOpener,
	destinations map[string]Destination,
	capabilities []string,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:        store,
		matcher:      matcher,
		opener:       opener,
		destinations: destinations,
		capabilities: capabilities,
		logger:       logger,
	}
}

// Move validates the request and starts the retrieve. Validation failures
// are returned synchronously; everything after validation is reported on
// the returned channel, which is closed after a terminal event.
//
// Cancel via ctx: cancellation is observed between sub-operations, never
// mid-transfer, and transfers already completed stand.
func (o *Orchestrator) Move(ctx context.Context, req *Request) (<-chan Event, error) {
	if req == nil || req.Query == nil {
		return nil, dicomerrors.ErrInvalidMessage
	}
	if req.Query.Level == types.QueryLevelPatient && req.Query.PatientID == "" {
		return nil, dicomerrors.ErrMissingQueryKey
	}

	events := make(chan Event)
	logger := o.logger.With("move_id", uuid.NewString(),
		"destination_ae", req.DestinationAETitle)

	go o.run(ctx, req, events, logger)

	return events, nil
}

func (o *Orchestrator) run(ctx context.Context, req *Request, events chan<- Event, logger *slog.Logger) {
	defer close(events)

	// RESOLVE
	dest, ok := o.destinations[req.DestinationAETitle]
	if !ok {
		logger.WarnContext(ctx, "Unknown move destination")
		events <- Event{
			Kind:   KindDestinationUnknown,
			Status: dimse.StatusMoveDestinationUnknown,
			Err:    dicomerrors.ErrUnknownDestination,
		}
		return
	}

	events <- Event{
		Kind:         KindResolved,
		Host:         dest.Host,
		Port:         dest.Port,
		Capabilities: o.capabilities,
	}

	// COUNT
	candidates, err := o.selectCandidates(ctx, req.Query)
	if err != nil {
		if errors.Is(err, dicomerrors.ErrOperationCanceled) || errors.Is(err, context.Canceled) {
			logger.InfoContext(ctx, "Candidate selection cancelled", "error", err)
			events <- Event{Kind: KindCancelled, Status: dimse.StatusCancelled, Err: err}
			return
		}
		logger.WarnContext(ctx, "Candidate selection failed", "error", err)
		events <- Event{Kind: KindFailed, Status: dimse.StatusFailure, Err: err}
		return
	}

	logger.InfoContext(ctx, "Resolved retrieve candidates",
		"host", dest.Host, "port", dest.Port, "candidates", len(candidates))
	events <- Event{Kind: KindCandidateCount, Count: len(candidates)}

	// STREAM
	completed, failed := 0, 0
	for i, instance := range candidates {
		if ctx.Err() != nil {
			logger.InfoContext(ctx, "Retrieve cancelled",
				"completed", completed, "failed", failed,
				"remaining", len(candidates)-i)
			events <- Event{
				Kind:      KindCancelled,
				Status:    dimse.StatusCancelled,
				Completed: completed,
				Failed:    failed,
				Remaining: len(candidates) - i,
			}
			return
		}

		status, err := o.transfer(ctx, dest, req.DestinationAETitle, instance)
		remaining := len(candidates) - i - 1

		switch {
		case err != nil && status == dimse.StatusMoveDestinationUnknown:
			// Could not establish the association at all; the peer is
			// unreachable and the remaining transfers would fail the
			// same way.
			logger.WarnContext(ctx, "Move destination unavailable",
				"host", dest.Host, "port", dest.Port, "error", err)
			events <- Event{
				Kind:      KindDestinationUnavailable,
				Status:    dimse.StatusMoveDestinationUnknown,
				Completed: completed,
				Failed:    failed,
				Remaining: remaining + 1,
				Err:       err,
			}
			return
		case err != nil || status != dimse.StatusSuccess:
			failed++
			logger.WarnContext(ctx, "Instance transfer failed",
				"sop_instance_uid", instance.SOPInstanceUID,
				"status", status, "error", err)
			events <- Event{
				Kind:           KindTransferFailed,
				SOPInstanceUID: instance.SOPInstanceUID,
				Status:         dimse.StatusSubOperationFailed,
				Completed:      completed,
				Failed:         failed,
				Remaining:      remaining,
				Err:            err,
			}
		default:
			completed++
			events <- Event{
				Kind:           KindTransferSucceeded,
				SOPInstanceUID: instance.SOPInstanceUID,
				Status:         dimse.StatusPending,
				Completed:      completed,
				Failed:         failed,
				Remaining:      remaining,
			}
		}
	}

	// DONE
	logger.InfoContext(ctx, "Retrieve finished",
		"completed", completed, "failed", failed)
	events <- Event{
		Kind:      KindCompleted,
		Status:    dimse.StatusSuccess,
		Completed: completed,
		Failed:    failed,
	}
}

// selectCandidates snapshots the instances the query selects, in repository
// insertion order. The snapshot is taken before the first transfer; stores
// arriving later do not join this retrieve.
func (o *Orchestrator) selectCandidates(ctx context.Context, q *types.QueryRequest) ([]*types.StoredInstance, error) {
	patients, err := o.matcher.MatchPatients(ctx, q)
	if err != nil {
		return nil, err
	}

	var candidates []*types.StoredInstance
	for _, patientID := range patients {
		err := o.store.EachByPatient(patientID, func(instance *types.StoredInstance) bool {
			candidates = append(candidates, instance)
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	return candidates, nil
}

// transfer sends one instance over a fresh session. An establishment
// failure is reported as StatusMoveDestinationUnknown with the error; a
// payload or send failure returns the failure status from the peer when
// one was received.
func (o *Orchestrator) transfer(ctx context.Context, dest Destination, aeTitle string, instance *types.StoredInstance) (uint16, error) {
	payload, err := o.store.Payload(instance.SOPInstanceUID)
	if err != nil {
		return dimse.StatusSubOperationFailed, err
	}

	session, err := o.opener.Open(ctx, dest.Host, dest.Port, aeTitle, o.capabilities)
	if err != nil {
		return dimse.StatusMoveDestinationUnknown, err
	}
	defer session.Close()

	start := time.Now()
	status, err := session.SendInstance(instance, payload)
	metrics.TransferDuration.Observe(time.Since(start).Seconds())
	return status, err
}
