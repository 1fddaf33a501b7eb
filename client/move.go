package client

import (
	"fmt"

	"github.com/caio-sobreiro/pacsnode/dicom"
	"github.com/caio-sobreiro/pacsnode/dimse"
	"github.com/caio-sobreiro/pacsnode/types"
)

// CMoveRequest encapsulates the information required to perform a C-MOVE retrieve.
type CMoveRequest struct {
	SOPClassUID     string
	MessageID       uint16
	Priority        uint16
	MoveDestination string // AE title the SCP will send instances to
	Dataset         *dicom.Dataset
}

// CMoveResponse represents a single C-MOVE response from the SCP.
type CMoveResponse struct {
	Status    uint16
	MessageID uint16
	Completed uint16
	Failed    uint16
	Warning   uint16
	Remaining uint16
}

// SendCMove performs a DICOM C-MOVE retrieve and returns all responses in
// order: zero or more pending responses carrying sub-operation counters,
// terminated by the final response.
func (a *Association) SendCMove(req *CMoveRequest) ([]*CMoveResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("c-move request cannot be nil")
	}
	if req.Dataset == nil {
		return nil, fmt.Errorf("c-move request requires a dataset")
	}
	if req.MoveDestination == "" {
		return nil, fmt.Errorf("c-move request requires a move destination")
	}

	sopClass := req.SOPClassUID
	if sopClass == "" {
		sopClass = types.PatientRootQueryRetrieveInformationModelMove
	}

	messageID := req.MessageID
	if messageID == 0 {
		messageID = 1
	}

	presContextID, err := a.GetPresentationContextID(sopClass)
	if err != nil {
		return nil, err
	}

	transferSyntax := a.TransferSyntax(presContextID)

	command := &types.Message{
		CommandField:        dimse.CMoveRQ,
		MessageID:           messageID,
		CommandDataSetType:  0x0000, // Dataset present
		Priority:            req.Priority,
		AffectedSOPClassUID: sopClass,
		MoveDestination:     req.MoveDestination,
	}

	commandData, err := dimse.EncodeCommand(command)
	if err != nil {
		return nil, fmt.Errorf("failed to encode C-MOVE command: %w", err)
	}

	datasetData, err := dicom.EncodeDatasetWithTransferSyntax(req.Dataset, transferSyntax)
	if err != nil {
		return nil, fmt.Errorf("failed to encode C-MOVE identifier: %w", err)
	}

	if err := dimse.SendDIMSEMessage(a.conn, presContextID, a.maxPDULength, commandData, datasetData); err != nil {
		return nil, fmt.Errorf("failed to send C-MOVE request: %w", err)
	}

	var responses []*CMoveResponse

	for {
		msg, _, err := dimse.ReceiveDIMSEMessage(a.conn)
		if err != nil {
			return nil, err
		}

		if msg.CommandField != dimse.CMoveRSP {
			return nil, fmt.Errorf("unexpected command: 0x%04x (expected C-MOVE-RSP)", msg.CommandField)
		}

		response := &CMoveResponse{
			Status:    msg.Status,
			MessageID: msg.MessageIDBeingRespondedTo,
		}
		if msg.NumberOfCompletedSuboperations != nil {
			response.Completed = *msg.NumberOfCompletedSuboperations
		}
		if msg.NumberOfFailedSuboperations != nil {
			response.Failed = *msg.NumberOfFailedSuboperations
		}
		if msg.NumberOfWarningSuboperations != nil {
			response.Warning = *msg.NumberOfWarningSuboperations
		}
		if msg.NumberOfRemainingSuboperations != nil {
			response.Remaining = *msg.NumberOfRemainingSuboperations
		}

		responses = append(responses, response)

		if msg.Status != dimse.StatusPending {
			break
		}
	}

	return responses, nil
}
