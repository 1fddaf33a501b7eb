package landing

import (
	"context"
	"log/slog"

	"github.com/caio-sobreiro/pacsnode/dicom"
	"github.com/caio-sobreiro/pacsnode/dimse"
	"github.com/caio-sobreiro/pacsnode/interfaces"
	"github.com/caio-sobreiro/pacsnode/types"
)

var (
	tagPatientID      = dicom.Tag{Group: 0x0010, Element: 0x0020}
	tagSOPInstanceUID = dicom.Tag{Group: 0x0008, Element: 0x0018}
)

// StoreHandler accepts C-STORE requests on the retrieving side of a C-MOVE
// and writes each received instance into the landing area.
type StoreHandler struct {
	area   *Area
	logger *slog.Logger
}

// NewStoreHandler creates a store handler over the given landing area.
func NewStoreHandler(area *Area, logger *slog.Logger) *StoreHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreHandler{area: area, logger: logger}
}

// HandleDIMSE writes the received instance to the landing area and
// acknowledges the store.
func (h *StoreHandler) HandleDIMSE(ctx context.Context, msg *types.Message, data []byte, meta interfaces.MessageContext) (*types.Message, *dicom.Dataset, error) {
	dataset, err := dicom.ParseDatasetWithTransferSyntax(data, meta.TransferSyntaxUID)
	if err != nil {
		h.logger.WarnContext(ctx, "Failed to parse incoming instance",
			"message_id", msg.MessageID, "error", err)
		return storeResponse(msg, dimse.StatusFailure), nil, nil
	}

	patientID := dataset.GetString(tagPatientID)
	sopInstanceUID := dataset.GetString(tagSOPInstanceUID)
	if sopInstanceUID == "" {
		sopInstanceUID = msg.AffectedSOPInstanceUID
	}

	path, err := h.area.Write(patientID, sopInstanceUID, data)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to write instance to landing area",
			"sop_instance_uid", sopInstanceUID, "error", err)
		return storeResponse(msg, dimse.StatusOutOfResources), nil, nil
	}

	h.logger.InfoContext(ctx, "Instance landed",
		"patient_id", patientID,
		"sop_instance_uid", sopInstanceUID,
		"path", path)

	return storeResponse(msg, dimse.StatusSuccess), nil, nil
}

func storeResponse(msg *types.Message, status uint16) *types.Message {
	return &types.Message{
		CommandField:              dimse.CStoreRSP,
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		AffectedSOPInstanceUID:    msg.AffectedSOPInstanceUID,
		CommandDataSetType:        0x0101,
		Status:                    status,
	}
}
