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
	"github.com/caio-sobreiro/pacsnode/query"
	"github.com/caio-sobreiro/pacsnode/types"
)

// FindService handles C-FIND queries against the instance repository.
//
// Each match is sent as a pending (0xFF00) response with an identifier
// dataset, followed by one final response: success when the query ran to
// completion, cancelled (0xFE00) when a C-CANCEL arrived mid-stream.
type FindService struct {
	matcher *query.Matcher
	logger  *slog.Logger
}

// NewFindService creates a C-FIND service over the given matcher.
func NewFindService(matcher *query.Matcher, logger *slog.Logger) *FindService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FindService{matcher: matcher, logger: logger}
}

// HandleDIMSE implements the single-response path. C-FIND is inherently
// multi-response, so this only reports a failure status.
func (s *FindService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	return CreateErrorResponse(msg, dimse.StatusFailure), nil, nil
}

// HandleDIMSEStreaming processes a C-FIND request and streams responses.
func (s *FindService) HandleDIMSEStreaming(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext, responder interfaces.ResponseSender) error {
	s.logger.DebugContext(ctx, "Processing C-FIND request",
		"message_id", msg.MessageID,
		"calling_ae", meta.CallingAETitle)

	req, err := parseQueryIdentifier(data, meta.TransferSyntaxUID)
	if err != nil {
		s.logger.WarnContext(ctx, "Malformed C-FIND identifier",
			"message_id", msg.MessageID, "error", err)
		metrics.QueriesHandled.WithLabelValues(metrics.OutcomeRejected).Inc()
		return responder.SendResponse(NewCFindErrorResponse(msg, dimse.StatusIdentifierMismatch), nil, meta.TransferSyntaxUID)
	}

	matches := 0
	err = s.matcher.Match(ctx, req, func(res *types.MatchResult) error {
		matches++
		return responder.SendResponse(NewCFindPendingResponse(msg), buildMatchIdentifier(res), meta.TransferSyntaxUID)
	})

	switch {
	case errors.Is(err, dicomerrors.ErrMissingQueryKey):
		s.logger.WarnContext(ctx, "C-FIND identifier missing PatientID",
			"message_id", msg.MessageID)
		metrics.QueriesHandled.WithLabelValues(metrics.OutcomeRejected).Inc()
		return responder.SendResponse(NewCFindErrorResponse(msg, dimse.StatusIdentifierMismatch), nil, meta.TransferSyntaxUID)

	case errors.Is(err, dicomerrors.ErrOperationCanceled) || errors.Is(err, context.Canceled):
		s.logger.InfoContext(ctx, "C-FIND cancelled",
			"message_id", msg.MessageID, "matches_sent", matches)
		metrics.QueriesHandled.WithLabelValues(metrics.OutcomeCancelled).Inc()
		return responder.SendResponse(NewCFindErrorResponse(msg, dimse.StatusCancelled), nil, meta.TransferSyntaxUID)

	case err != nil:
		s.logger.ErrorContext(ctx, "C-FIND match failed",
			"message_id", msg.MessageID, "error", err)
		metrics.QueriesHandled.WithLabelValues(metrics.OutcomeFailure).Inc()
		return responder.SendResponse(NewCFindErrorResponse(msg, dimse.StatusFailure), nil, meta.TransferSyntaxUID)
	}

	s.logger.InfoContext(ctx, "C-FIND completed",
		"message_id", msg.MessageID, "matches", matches)
	metrics.QueriesHandled.WithLabelValues(metrics.OutcomeSuccess).Inc()

	return responder.SendResponse(NewCFindSuccessResponse(msg), nil, meta.TransferSyntaxUID)
}
