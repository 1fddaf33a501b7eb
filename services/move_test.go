package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/pacsnode/dicom"
	"github.com/caio-sobreiro/pacsnode/dimse"
	"github.com/caio-sobreiro/pacsnode/interfaces"
	"github.com/caio-sobreiro/pacsnode/query"
	"github.com/caio-sobreiro/pacsnode/retrieve"
	"github.com/caio-sobreiro/pacsnode/types"
)

type fakeMoveSession struct {
	opener *fakeMoveOpener
}

func (s *fakeMoveSession) SendInstance(instance *types.StoredInstance, payload []byte) (uint16, error) {
	s.opener.sent = append(s.opener.sent, instance.SOPInstanceUID)
	if s.opener.failUID == instance.SOPInstanceUID {
		return dimse.StatusOutOfResources, nil
	}
	return dimse.StatusSuccess, nil
}

func (s *fakeMoveSession) Close() error { return nil }

type fakeMoveOpener struct {
	sent    []string
	failUID string
	openErr error
}

func (f *fakeMoveOpener) Open(ctx context.Context, host string, port int, calledAETitle string, capabilities []string) (interfaces.Session, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeMoveSession{opener: f}, nil
}

func moveService(opener *fakeMoveOpener, uids ...string) *MoveService {
	store := newFakeInstanceStore()
	for _, uid := range uids {
		store.instances = append(store.instances, &types.StoredInstance{
			PatientID:      "PAT001",
			SOPInstanceUID: uid,
			SOPClassUID:    types.CTImageStorage,
		})
		store.payloads[uid] = []byte("payload-" + uid)
	}
	return moveServiceOver(store, opener)
}

func moveServiceOver(store *fakeInstanceStore, opener *fakeMoveOpener) *MoveService {
	matcher := query.NewMatcher(store, nil)
	destinations := map[string]retrieve.Destination{
		"TESTSCU": {Host: "127.0.0.1", Port: 11113},
	}
	orchestrator := retrieve.NewOrchestrator(store, matcher, opener, destinations,
		[]string{types.CTImageStorage}, nil)
	return NewMoveService(orchestrator, nil)
}

func moveRequest(messageID uint16, destination string) *types.Message {
	return &types.Message{
		CommandField:        dimse.CMoveRQ,
		MessageID:           messageID,
		AffectedSOPClassUID: types.PatientRootQueryRetrieveInformationModelMove,
		MoveDestination:     destination,
		CommandDataSetType:  0x0000,
	}
}

func TestMoveService_Streaming_AllTransfersSucceed(t *testing.T) {
	opener := &fakeMoveOpener{}
	service := moveService(opener, "1.1", "1.2")

	responder := &mockResponder{}
	err := service.HandleDIMSEStreaming(context.Background(), moveRequest(1, "TESTSCU"),
		patientIdentifier(t, "PAT001"), testMeta(), responder)
	require.NoError(t, err)

	require.Len(t, responder.responses, 3, "one pending per transfer plus the final response")

	first := responder.responses[0]
	assert.Equal(t, uint16(dimse.CMoveRSP), first.CommandField)
	assert.Equal(t, uint16(dimse.StatusPending), first.Status)
	require.NotNil(t, first.NumberOfCompletedSuboperations)
	assert.Equal(t, uint16(1), *first.NumberOfCompletedSuboperations)
	require.NotNil(t, first.NumberOfRemainingSuboperations)
	assert.Equal(t, uint16(1), *first.NumberOfRemainingSuboperations)

	second := responder.responses[1]
	assert.Equal(t, uint16(dimse.StatusPending), second.Status)
	assert.Equal(t, uint16(2), *second.NumberOfCompletedSuboperations)
	assert.Equal(t, uint16(0), *second.NumberOfRemainingSuboperations)

	final := responder.responses[2]
	assert.Equal(t, uint16(dimse.StatusSuccess), final.Status)
	assert.Equal(t, uint16(2), *final.NumberOfCompletedSuboperations)
	assert.Equal(t, uint16(0), *final.NumberOfFailedSuboperations)

	assert.Equal(t, []string{"1.1", "1.2"}, opener.sent)
}

func TestMoveService_Streaming_PerItemFailure(t *testing.T) {
	opener := &fakeMoveOpener{failUID: "1.1"}
	service := moveService(opener, "1.1", "1.2")

	responder := &mockResponder{}
	err := service.HandleDIMSEStreaming(context.Background(), moveRequest(2, "TESTSCU"),
		patientIdentifier(t, "PAT001"), testMeta(), responder)
	require.NoError(t, err)

	require.Len(t, responder.responses, 3)

	first := responder.responses[0]
	assert.Equal(t, uint16(dimse.StatusPending), first.Status)
	assert.Equal(t, uint16(0), *first.NumberOfCompletedSuboperations)
	assert.Equal(t, uint16(1), *first.NumberOfFailedSuboperations)

	final := responder.responses[2]
	assert.Equal(t, uint16(dimse.StatusSuccess), final.Status)
	assert.Equal(t, uint16(1), *final.NumberOfCompletedSuboperations)
	assert.Equal(t, uint16(1), *final.NumberOfFailedSuboperations)
}

func TestMoveService_Streaming_UnknownDestination(t *testing.T) {
	service := moveService(&fakeMoveOpener{}, "1.1")

	responder := &mockResponder{}
	err := service.HandleDIMSEStreaming(context.Background(), moveRequest(3, "NOSUCHAE"),
		patientIdentifier(t, "PAT001"), testMeta(), responder)
	require.NoError(t, err)

	require.Len(t, responder.responses, 1)
	assert.Equal(t, uint16(dimse.StatusMoveDestinationUnknown), responder.responses[0].Status)
}

func TestMoveService_Streaming_DestinationUnavailable(t *testing.T) {
	opener := &fakeMoveOpener{openErr: errors.New("connection refused")}
	service := moveService(opener, "1.1", "1.2")

	responder := &mockResponder{}
	err := service.HandleDIMSEStreaming(context.Background(), moveRequest(4, "TESTSCU"),
		patientIdentifier(t, "PAT001"), testMeta(), responder)
	require.NoError(t, err)

	require.Len(t, responder.responses, 1)
	assert.Equal(t, uint16(dimse.StatusMoveDestinationUnknown), responder.responses[0].Status)
	assert.Empty(t, opener.sent)
}

func TestMoveService_Streaming_StoreFaultReportsFailure(t *testing.T) {
	store := newFakeInstanceStore()
	store.instances = append(store.instances, &types.StoredInstance{
		PatientID:      "PAT001",
		SOPInstanceUID: "1.1",
		SOPClassUID:    types.CTImageStorage,
	})
	store.eachErr = errors.New("value log read failed")
	service := moveServiceOver(store, &fakeMoveOpener{})

	responder := &mockResponder{}
	err := service.HandleDIMSEStreaming(context.Background(), moveRequest(7, "TESTSCU"),
		patientIdentifier(t, "PAT001"), testMeta(), responder)
	require.NoError(t, err)

	// A repository fault is a failure, not a cancel.
	require.Len(t, responder.responses, 1)
	assert.Equal(t, uint16(dimse.StatusFailure), responder.responses[0].Status)
	assert.NotEqual(t, uint16(dimse.StatusCancelled), responder.responses[0].Status)
}

func TestMoveService_Streaming_MissingPatientID(t *testing.T) {
	service := moveService(&fakeMoveOpener{}, "1.1")

	identifier := encodeIdentifier(t, func(dataset *dicom.Dataset) {
		dataset.AddElement(tagQueryLevel, dicom.VR_CS, "PATIENT")
	})

	responder := &mockResponder{}
	err := service.HandleDIMSEStreaming(context.Background(), moveRequest(5, "TESTSCU"),
		identifier, testMeta(), responder)
	require.NoError(t, err)

	require.Len(t, responder.responses, 1)
	assert.Equal(t, uint16(dimse.StatusIdentifierMismatch), responder.responses[0].Status)
}

func TestMoveService_SingleShotReportsFailure(t *testing.T) {
	service := moveService(&fakeMoveOpener{}, "1.1")

	resp, _, err := service.HandleDIMSE(context.Background(), moveRequest(6, "TESTSCU"), nil, testMeta())
	require.NoError(t, err)
	assert.Equal(t, uint16(dimse.StatusFailure), resp.Status)
}
