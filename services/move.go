package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/caio-sobreiro/pacsnode/dicom"
	"github.com/caio-sobreiro/pacsnode/dimse"
	dicomerrors "github.com/caio-sobreiro/pacsnode/errors"
	"github.com/caio-sobreiro/pacsnode/interfaces"
	"github.com/caio-sobreiro/pacsnode/metrics"
	"github.com/caio-sobreiro/pacsnode/retrieve"
	"github.com/caio-sobreiro/pacsnode/types"
)

// MoveService handles C-MOVE requests by driving the retrieve orchestrator
// and translating its event stream into C-MOVE responses: one pending
// response with cumulative counters per completed transfer, then a single
// final response.
type MoveService struct {
	orchestrator *retrieve.Orchestrator
	logger       *slog.Logger
}

// NewMoveService creates a C-MOVE service over the given orchestrator.
func NewMoveService(orchestrator *retrieve.Orchestrator, logger *slog.Logger) *MoveService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MoveService{orchestrator: orchestrator, logger: logger}
}

// HandleDIMSE implements the single-response path. C-MOVE is inherently
// multi-response, so this only reports a failure status.
func (s *MoveService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	return CreateErrorResponse(msg, dimse.StatusFailure), nil, nil
}

// HandleDIMSEStreaming processes a C-MOVE request and streams responses.
func (s *MoveService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	s.logger.DebugContext(ctx, "Processing C-MOVE request",
		"message_id", msg.MessageID,
		"move_destination", msg.MoveDestination,
		"calling_ae", meta.CallingAETitle)

	queryReq, err := parseQueryIdentifier(data, meta.TransferSyntaxUID)
	if err != nil {
		s.logger.WarnContext(ctx, "Malformed C-MOVE identifier",
			"message_id", msg.MessageID, "error", err)
		metrics.RetrievesStarted.WithLabelValues(metrics.OutcomeRejected).Inc()
		return responder.SendResponse(NewCMoveErrorResponse(msg, dimse.StatusIdentifierMismatch), nil, meta.TransferSyntaxUID)
	}

	events, err := s.orchestrator.Move(ctx, &retrieve.Request{
		DestinationAETitle: msg.MoveDestination,
		Query:              queryReq,
	})
	if err != nil {
		status := uint16(dimse.StatusFailure)
		if errors.Is(err, dicomerrors.ErrMissingQueryKey) || errors.Is(err, dicomerrors.ErrInvalidMessage) {
			status = dimse.StatusIdentifierMismatch
		}
		s.logger.WarnContext(ctx, "C-MOVE rejected",
			"message_id", msg.MessageID, "error", err)
		metrics.RetrievesStarted.WithLabelValues(metrics.OutcomeRejected).Inc()
		return responder.SendResponse(NewCMoveErrorResponse(msg, status), nil, meta.TransferSyntaxUID)
	}

	for event := range events {
		if err := s.respond(ctx, msg, meta, responder, event); err != nil {
			// The association is gone; drain the orchestrator so it
			// can run to its terminal event.
			for range events {
			}
			return err
		}
	}

	return nil
}

func (s *MoveService) respond(ctx context.Context, msg *types.Message, meta interfaces.MessageContext, responder interfaces.ResponseSender, event retrieve.Event) error {
	switch event.Kind {
	case retrieve.KindResolved:
		s.logger.InfoContext(ctx, "Move destination resolved",
			"message_id", msg.MessageID,
			"host", event.Host, "port", event.Port)
		return nil

	case retrieve.KindCandidateCount:
		s.logger.InfoContext(ctx, "Move candidates resolved",
			"message_id", msg.MessageID, "candidates", event.Count)
		return nil

	case retrieve.KindTransferSucceeded:
		metrics.SubOperations.WithLabelValues(metrics.OutcomeSuccess).Inc()
		return responder.SendResponse(NewCMovePendingResponse(msg,
			uint16(event.Completed), uint16(event.Failed), 0, uint16(event.Remaining)), nil, meta.TransferSyntaxUID)

	case retrieve.KindTransferFailed:
		metrics.SubOperations.WithLabelValues(metrics.OutcomeFailure).Inc()
		return responder.SendResponse(NewCMovePendingResponse(msg,
			uint16(event.Completed), uint16(event.Failed), 0, uint16(event.Remaining)), nil, meta.TransferSyntaxUID)

	case retrieve.KindDestinationUnknown:
		s.logger.WarnContext(ctx, "C-MOVE to unknown destination",
			"message_id", msg.MessageID, "move_destination", msg.MoveDestination)
		metrics.RetrievesStarted.WithLabelValues(metrics.OutcomeRejected).Inc()
		return responder.SendResponse(NewCMoveErrorResponse(msg, dimse.StatusMoveDestinationUnknown), nil, meta.TransferSyntaxUID)

	case retrieve.KindDestinationUnavailable:
		s.logger.WarnContext(ctx, "C-MOVE destination unavailable",
			"message_id", msg.MessageID, "error", event.Err)
		metrics.RetrievesStarted.WithLabelValues(metrics.OutcomeFailure).Inc()
		return responder.SendResponse(NewCMoveErrorResponse(msg, dimse.StatusMoveDestinationUnknown), nil, meta.TransferSyntaxUID)

	case retrieve.KindFailed:
		s.logger.WarnContext(ctx, "C-MOVE failed before transfers started",
			"message_id", msg.MessageID, "error", event.Err)
		metrics.RetrievesStarted.WithLabelValues(metrics.OutcomeFailure).Inc()
		return responder.SendResponse(NewCMoveErrorResponse(msg, dimse.StatusFailure), nil, meta.TransferSyntaxUID)

	case retrieve.KindCancelled:
		s.logger.InfoContext(ctx, "C-MOVE cancelled",
			"message_id", msg.MessageID,
			"completed", event.Completed, "failed", event.Failed)
		metrics.RetrievesStarted.WithLabelValues(metrics.OutcomeCancelled).Inc()
		completed, failed, remaining := uint16(event.Completed), uint16(event.Failed), uint16(event.Remaining)
		response := NewResponseBuilder(msg).CMoveResponse(dimse.StatusCancelled, &completed, &failed, nil, &remaining)
		return responder.SendResponse(response, nil, meta.TransferSyntaxUID)

	case retrieve.KindCompleted:
		s.logger.InfoContext(ctx, "C-MOVE completed",
			"message_id", msg.MessageID,
			"completed", event.Completed, "failed", event.Failed)
		metrics.RetrievesStarted.WithLabelValues(metrics.OutcomeSuccess).Inc()
		return responder.SendResponse(NewCMoveSuccessResponse(msg,
			uint16(event.Completed), uint16(event.Failed), 0), nil, meta.TransferSyntaxUID)
	}

	return nil
}
