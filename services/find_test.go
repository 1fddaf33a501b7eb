package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/pacsnode/dicom"
	"github.com/caio-sobreiro/pacsnode/dimse"
	"github.com/caio-sobreiro/pacsnode/query"
	"github.com/caio-sobreiro/pacsnode/types"
)

func patientIdentifier(t *testing.T, patientID string) []byte {
	return encodeIdentifier(t, func(dataset *dicom.Dataset) {
		dataset.AddElement(tagQueryLevel, dicom.VR_CS, "PATIENT")
		dataset.AddElement(tagPatientID, dicom.VR_LO, patientID)
		dataset.AddElement(tagPatientName, dicom.VR_PN, "")
	})
}

func findService(instances ...*types.StoredInstance) *FindService {
	store := newFakeInstanceStore()
	store.instances = instances
	return NewFindService(query.NewMatcher(store, nil), nil)
}

func TestFindService_Streaming_MatchThenSuccess(t *testing.T) {
	service := findService(
		&types.StoredInstance{PatientID: "PAT001", PatientName: "Doe^Jane", SOPInstanceUID: "1.1"},
		&types.StoredInstance{PatientID: "PAT001", PatientName: "Doe^Jane", SOPInstanceUID: "1.2"},
	)

	msg := &types.Message{
		CommandField:        dimse.CFindRQ,
		MessageID:           1,
		AffectedSOPClassUID: types.PatientRootQueryRetrieveInformationModelFind,
		CommandDataSetType:  0x0000,
	}

	responder := &mockResponder{}
	err := service.HandleDIMSEStreaming(context.Background(), msg, patientIdentifier(t, "PAT001"), testMeta(), responder)
	require.NoError(t, err)

	require.Len(t, responder.responses, 2, "one pending match plus the final response")

	pending := responder.responses[0]
	assert.Equal(t, uint16(dimse.StatusPending), pending.Status)
	require.NotNil(t, responder.datasets[0])
	assert.Equal(t, "PAT001", responder.datasets[0].GetString(tagPatientID))
	assert.Equal(t, "Doe^Jane", responder.datasets[0].GetString(tagPatientName))
	assert.Equal(t, "PATIENT", responder.datasets[0].GetString(tagQueryLevel))

	final := responder.responses[1]
	assert.Equal(t, uint16(dimse.StatusSuccess), final.Status)
	assert.Nil(t, responder.datasets[1])
}

func TestFindService_Streaming_NoMatches(t *testing.T) {
	service := findService()

	msg := &types.Message{
		CommandField:       dimse.CFindRQ,
		MessageID:          2,
		CommandDataSetType: 0x0000,
	}

	responder := &mockResponder{}
	err := service.HandleDIMSEStreaming(context.Background(), msg, patientIdentifier(t, "PAT404"), testMeta(), responder)
	require.NoError(t, err)

	require.Len(t, responder.responses, 1)
	assert.Equal(t, uint16(dimse.StatusSuccess), responder.responses[0].Status,
		"zero matches is a successful query")
}

func TestFindService_Streaming_MissingPatientID(t *testing.T) {
	service := findService(
		&types.StoredInstance{PatientID: "PAT001", SOPInstanceUID: "1.1"},
	)

	identifier := encodeIdentifier(t, func(dataset *dicom.Dataset) {
		dataset.AddElement(tagQueryLevel, dicom.VR_CS, "PATIENT")
	})

	msg := &types.Message{
		CommandField:       dimse.CFindRQ,
		MessageID:          3,
		CommandDataSetType: 0x0000,
	}

	responder := &mockResponder{}
	err := service.HandleDIMSEStreaming(context.Background(), msg, identifier, testMeta(), responder)
	require.NoError(t, err)

	require.Len(t, responder.responses, 1)
	assert.Equal(t, uint16(dimse.StatusIdentifierMismatch), responder.responses[0].Status)
}

func TestFindService_Streaming_UnsupportedLevel(t *testing.T) {
	service := findService(
		&types.StoredInstance{PatientID: "PAT001", SOPInstanceUID: "1.1"},
	)

	identifier := encodeIdentifier(t, func(dataset *dicom.Dataset) {
		dataset.AddElement(tagQueryLevel, dicom.VR_CS, "STUDY")
		dataset.AddElement(tagPatientID, dicom.VR_LO, "PAT001")
	})

	msg := &types.Message{
		CommandField:       dimse.CFindRQ,
		MessageID:          4,
		CommandDataSetType: 0x0000,
	}

	responder := &mockResponder{}
	err := service.HandleDIMSEStreaming(context.Background(), msg, identifier, testMeta(), responder)
	require.NoError(t, err)

	require.Len(t, responder.responses, 1)
	assert.Equal(t, uint16(dimse.StatusSuccess), responder.responses[0].Status,
		"unsupported levels complete with zero matches")
}

func TestFindService_Streaming_Cancelled(t *testing.T) {
	service := findService(
		&types.StoredInstance{PatientID: "PAT001", SOPInstanceUID: "1.1"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := &types.Message{
		CommandField:       dimse.CFindRQ,
		MessageID:          5,
		CommandDataSetType: 0x0000,
	}

	responder := &mockResponder{}
	err := service.HandleDIMSEStreaming(ctx, msg, patientIdentifier(t, "PAT001"), testMeta(), responder)
	require.NoError(t, err)

	require.Len(t, responder.responses, 1)
	assert.Equal(t, uint16(dimse.StatusCancelled), responder.responses[0].Status)
}

func TestFindService_SingleShotReportsFailure(t *testing.T) {
	service := findService()

	msg := &types.Message{
		CommandField: dimse.CFindRQ,
		MessageID:    6,
	}

	resp, _, err := service.HandleDIMSE(context.Background(), msg, nil, testMeta())
	require.NoError(t, err)
	assert.Equal(t, uint16(dimse.StatusFailure), resp.Status)
}
