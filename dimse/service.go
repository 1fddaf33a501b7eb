// Package dimse implements the DIMSE message layer: the command codec,
// message fragmentation/reassembly over P-DATA-TF, and the per-association
// service that routes complete messages to registered handlers.
package dimse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/caio-sobreiro/pacsnode/dicom"
	"github.com/caio-sobreiro/pacsnode/interfaces"
	"github.com/caio-sobreiro/pacsnode/types"
)

// Command types
const (
	CStoreRQ  = 0x0001
	CStoreRSP = 0x8001
	CFindRQ   = 0x0020
	CFindRSP  = 0x8020
	CMoveRQ   = 0x0021
	CMoveRSP  = 0x8021
	CEchoRQ   = 0x0030
	CEchoRSP  = 0x8030
	CCancelRQ = 0x0FFF
)

// Status codes
const (
	StatusSuccess   = 0x0000
	StatusPending   = 0xFF00
	StatusCancelled = 0xFE00
	StatusFailure   = 0xC000

	// StatusMoveDestinationUnknown is also used when a known destination
	// refuses or cannot sustain an association.
	StatusMoveDestinationUnknown = 0xA801
	StatusOutOfResources         = 0xA700
	StatusIdentifierMismatch     = 0xA900
	StatusSubOperationFailed     = 0xB000
)

// PDULayer interface for sending responses and resolving association metadata
type PDULayer interface {
	SendDIMSEResponseWithDataset(presContextID byte, commandData []byte, datasetData []byte) error
	GetTransferSyntax(presContextID byte) (string, error)
	CallingAETitle() string
	CalledAETitle() string
}

// Service manages DIMSE operations for one association.
//
// Commands and datasets are reassembled from P-DATA-TF fragments; each
// complete message is dispatched to the handler. Streaming handlers (C-FIND,
// C-MOVE) run in their own goroutine so the association read loop stays free
// to receive a C-CANCEL-RQ, which cancels the matching operation's context.
type Service struct {
	handler     interfaces.ServiceHandler
	commandData []byte
	datasetData []byte
	currentMsg  *types.Message
	logger      *slog.Logger

	sendMu sync.Mutex

	cancelMu sync.Mutex
	cancels  map[uint16]context.CancelFunc

	wg sync.WaitGroup
}

// responseHandler implements ResponseSender for streaming responses.
// Sends are serialized through the service so a handler goroutine cannot
// interleave PDUs with another response on the same association.
type responseHandler struct {
	service       *Service
	presContextID byte
	pduLayer      PDULayer
}

// SendResponse implements the ResponseSender interface
func (r *responseHandler) SendResponse(msg *types.Message, dataset *dicom.Dataset, transferSyntaxUID string) error {
	return r.service.sendDIMSEResponse(msg, dataset, transferSyntaxUID, r.presContextID, r.pduLayer)
}

// NewService creates a new DIMSE service with a handler
func NewService(handler interfaces.ServiceHandler, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		handler: handler,
		logger:  logger,
		cancels: make(map[uint16]context.CancelFunc),
	}
}

// HandleDIMSEMessage processes DIMSE message fragments and routes complete messages
func (d *Service) HandleDIMSEMessage(presContextID byte, msgCtrlHeader byte, data []byte, pduLayer PDULayer) error {
	ctx := context.Background()

	d.logger.Debug("Processing DIMSE message",
		"context_id", presContextID,
		"control_header", fmt.Sprintf("0x%02x", msgCtrlHeader))

	// Message control header:
	// bit 0: 1 = command fragment, 0 = dataset fragment
	// bit 1: 1 = last fragment
	isCommand := (msgCtrlHeader & 0x01) != 0
	isLastFragment := (msgCtrlHeader & 0x02) != 0

	if isCommand {
		d.logger.Debug("Received command data", "size_bytes", len(data))
		d.commandData = append(d.commandData, data...)
		if isLastFragment {
			msg, err := DecodeCommand(d.commandData)
			if err != nil {
				return fmt.Errorf("failed to decode DIMSE command: %w", err)
			}
			d.currentMsg = msg

			if !msg.HasDataset() {
				return d.processCompleteMessage(ctx, presContextID, pduLayer)
			}
		}
	} else {
		d.logger.Debug("Received dataset data", "size_bytes", len(data))
		d.datasetData = append(d.datasetData, data...)
		if isLastFragment {
			return d.processCompleteMessage(ctx, presContextID, pduLayer)
		}
	}

	return nil
}

// Wait blocks until all in-flight streaming handlers have finished.
func (d *Service) Wait() {
	d.wg.Wait()
}

// processCompleteMessage dispatches a complete DIMSE message (command + optional dataset)
func (d *Service) processCompleteMessage(ctx context.Context, presContextID byte, pduLayer PDULayer) error {
	if d.currentMsg == nil {
		return fmt.Errorf("no current message to process")
	}

	msg := d.currentMsg
	datasetData := d.datasetData

	// Reset for the next message on this association
	d.commandData = nil
	d.datasetData = nil
	d.currentMsg = nil

	d.logger.InfoContext(ctx, "Processing complete DIMSE message",
		"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
		"message_id", msg.MessageID,
		"dataset_size", len(datasetData))

	if msg.CommandField == CCancelRQ {
		d.cancelOperation(ctx, msg.MessageIDBeingRespondedTo)
		return nil
	}

	meta := d.messageContext(presContextID, pduLayer)

	if streamingHandler, ok := d.handler.(interfaces.StreamingServiceHandler); ok {
		responder := &responseHandler{
			service:       d,
			presContextID: presContextID,
			pduLayer:      pduLayer,
		}

		opCtx, cancel := context.WithCancel(ctx)
		d.registerCancel(msg.MessageID, cancel)

		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.unregisterCancel(msg.MessageID)
			defer cancel()

			if err := streamingHandler.HandleDIMSEStreaming(opCtx, msg, datasetData, meta, responder); err != nil {
				d.logger.WarnContext(opCtx, "Streaming handler failed",
					"command_field", fmt.Sprintf("0x%04x", msg.CommandField),
					"message_id", msg.MessageID,
					"error", err)
			}
		}()

		return nil
	}

	responseMsg, responseDataset, err := d.handler.HandleDIMSE(ctx, msg, datasetData, meta)
	if err != nil {
		return fmt.Errorf("service handler failed: %w", err)
	}

	return d.sendDIMSEResponse(responseMsg, responseDataset, meta.TransferSyntaxUID, presContextID, pduLayer)
}

// cancelOperation cancels the operation with the given message ID. An
// unknown ID is not an error: the operation may already have completed.
func (d *Service) cancelOperation(ctx context.Context, messageID uint16) {
	d.cancelMu.Lock()
	cancel, ok := d.cancels[messageID]
	d.cancelMu.Unlock()

	if !ok {
		d.logger.DebugContext(ctx, "C-CANCEL for unknown or finished operation",
			"message_id", messageID)
		return
	}

	d.logger.InfoContext(ctx, "Cancelling in-flight operation", "message_id", messageID)
	cancel()
}

func (d *Service) registerCancel(messageID uint16, cancel context.CancelFunc) {
	d.cancelMu.Lock()
	d.cancels[messageID] = cancel
	d.cancelMu.Unlock()
}

func (d *Service) unregisterCancel(messageID uint16) {
	d.cancelMu.Lock()
	delete(d.cancels, messageID)
	d.cancelMu.Unlock()
}

func (d *Service) messageContext(presContextID byte, pduLayer PDULayer) interfaces.MessageContext {
	meta := interfaces.MessageContext{
		PresentationContextID: presContextID,
		CallingAETitle:        pduLayer.CallingAETitle(),
		CalledAETitle:         pduLayer.CalledAETitle(),
	}
	if ts, err := pduLayer.GetTransferSyntax(presContextID); err == nil {
		meta.TransferSyntaxUID = ts
	} else {
		d.logger.Debug("No transfer syntax for presentation context",
			"context_id", presContextID, "error", err)
	}
	return meta
}

// sendDIMSEResponse encodes and sends a DIMSE response
func (d *Service) sendDIMSEResponse(msg *types.Message, dataset *dicom.Dataset, transferSyntaxUID string, presContextID byte, pduLayer PDULayer) error {
	commandData, err := EncodeCommand(msg)
	if err != nil {
		return fmt.Errorf("failed to encode response command: %w", err)
	}

	var datasetData []byte
	if dataset != nil {
		datasetData, err = dicom.EncodeDatasetWithTransferSyntax(dataset, transferSyntaxUID)
		if err != nil {
			return fmt.Errorf("failed to encode response dataset: %w", err)
		}
	}

	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	return pduLayer.SendDIMSEResponseWithDataset(presContextID, commandData, datasetData)
}
