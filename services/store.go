package services

import (
	"context"
	"log/slog"

	"github.com/caio-sobreiro/pacsnode/dicom"
	"github.com/caio-sobreiro/pacsnode/dimse"
	"github.com/caio-sobreiro/pacsnode/interfaces"
	"github.com/caio-sobreiro/pacsnode/metrics"
	"github.com/caio-sobreiro/pacsnode/types"
)

// StoreService handles C-STORE requests by persisting the received instance
// in the instance repository. The raw dataset bytes are stored as the
// payload; identifying attributes are indexed from the decoded dataset.
type StoreService struct {
	store  interfaces.InstanceStore
	logger *slog.Logger
}

// NewStoreService creates a C-STORE service backed by the given repository.
func NewStoreService(store interfaces.InstanceStore, logger *slog.Logger) *StoreService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreService{store: store, logger: logger}
}

// HandleDIMSE processes a C-STORE request. A persistence failure is
// reported to the peer as a refused store (out of resources); it is never
// acknowledged as success.
func (s *StoreService) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	s.logger.DebugContext(ctx, "Processing C-STORE request",
		"message_id", msg.MessageID,
		"sop_instance_uid", msg.AffectedSOPInstanceUID,
		"payload_size", len(data),
		"calling_ae", meta.CallingAETitle)

	dataset, err := dicom.ParseDatasetWithTransferSyntax(data, meta.TransferSyntaxUID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to parse C-STORE dataset",
			"message_id", msg.MessageID, "error", err)
		metrics.InstancesStored.WithLabelValues(metrics.OutcomeFailure).Inc()
		return NewCStoreResponse(msg, dimse.StatusFailure), nil, nil
	}

	instance := instanceFromDataset(dataset, meta.TransferSyntaxUID)
	if instance.SOPInstanceUID == "" {
		instance.SOPInstanceUID = msg.AffectedSOPInstanceUID
	}
	if instance.SOPClassUID == "" {
		instance.SOPClassUID = msg.AffectedSOPClassUID
	}

	if err := s.store.Store(ctx, instance, data); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist instance",
			"sop_instance_uid", instance.SOPInstanceUID, "error", err)
		metrics.InstancesStored.WithLabelValues(metrics.OutcomeFailure).Inc()
		return NewCStoreResponse(msg, dimse.StatusOutOfResources), nil, nil
	}

	s.logger.InfoContext(ctx, "C-STORE accepted",
		"sop_instance_uid", instance.SOPInstanceUID,
		"patient_id", instance.PatientID)
	metrics.InstancesStored.WithLabelValues(metrics.OutcomeSuccess).Inc()

	return NewCStoreResponse(msg, dimse.StatusSuccess), nil, nil
}
