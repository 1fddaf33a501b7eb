package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/pacsnode/dicom"
	"github.com/caio-sobreiro/pacsnode/dimse"
	"github.com/caio-sobreiro/pacsnode/types"
)

// fakeInstanceStore is an insertion-ordered in-memory InstanceStore for
// service tests.
type fakeInstanceStore struct {
	instances []*types.StoredInstance
	payloads  map[string][]byte
	storeErr  error
	eachErr   error
}

func newFakeInstanceStore() *fakeInstanceStore {
	return &fakeInstanceStore{payloads: make(map[string][]byte)}
}

func (f *fakeInstanceStore) Store(ctx context.Context, instance *types.StoredInstance, payload []byte) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.instances = append(f.instances, instance)
	f.payloads[instance.SOPInstanceUID] = payload
	return nil
}

func (f *fakeInstanceStore) EachByPatient(patientID string, visit func(*types.StoredInstance) bool) error {
	if f.eachErr != nil {
		return f.eachErr
	}
	for _, instance := range f.instances {
		if !instance.MatchesPatientID(patientID) {
			continue
		}
		if !visit(instance) {
			return nil
		}
	}
	return nil
}

func (f *fakeInstanceStore) Payload(sopInstanceUID string) ([]byte, error) {
	payload, ok := f.payloads[sopInstanceUID]
	if !ok {
		return nil, errors.New("no payload for instance " + sopInstanceUID)
	}
	return payload, nil
}

func (f *fakeInstanceStore) Count() int { return len(f.instances) }

func encodeIdentifier(t *testing.T, build func(*dicom.Dataset)) []byte {
	t.Helper()
	dataset := dicom.NewDataset()
	build(dataset)
	data, err := dicom.EncodeDatasetWithTransferSyntax(dataset, types.ExplicitVRLittleEndian)
	require.NoError(t, err)
	return data
}

func instanceDataset(t *testing.T, patientID, patientName, sopInstanceUID string) []byte {
	return encodeIdentifier(t, func(dataset *dicom.Dataset) {
		dataset.AddElement(tagPatientID, dicom.VR_LO, patientID)
		dataset.AddElement(tagPatientName, dicom.VR_PN, patientName)
		dataset.AddElement(tagSOPClassUID, dicom.VR_UI, types.CTImageStorage)
		dataset.AddElement(tagSOPInstanceUID, dicom.VR_UI, sopInstanceUID)
	})
}

func TestStoreService_HandleDIMSE_Success(t *testing.T) {
	store := newFakeInstanceStore()
	service := NewStoreService(store, nil)

	data := instanceDataset(t, "PAT001", "Doe^Jane", "1.2.3")
	msg := &types.Message{
		CommandField:           dimse.CStoreRQ,
		MessageID:              1,
		AffectedSOPClassUID:    types.CTImageStorage,
		AffectedSOPInstanceUID: "1.2.3",
		CommandDataSetType:     0x0000,
	}

	resp, respData, err := service.HandleDIMSE(context.Background(), msg, data, testMeta())
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Nil(t, respData)

	assert.Equal(t, uint16(dimse.CStoreRSP), resp.CommandField)
	assert.Equal(t, uint16(dimse.StatusSuccess), resp.Status)
	assert.Equal(t, msg.MessageID, resp.MessageIDBeingRespondedTo)

	require.Equal(t, 1, store.Count())
	stored := store.instances[0]
	assert.Equal(t, "PAT001", stored.PatientID)
	assert.Equal(t, "Doe^Jane", stored.PatientName)
	assert.Equal(t, "1.2.3", stored.SOPInstanceUID)
	assert.Equal(t, types.CTImageStorage, stored.SOPClassUID)

	payload, err := store.Payload("1.2.3")
	require.NoError(t, err)
	assert.Equal(t, data, payload, "the raw dataset bytes are the stored payload")
}

func TestStoreService_HandleDIMSE_UIDsFromCommand(t *testing.T) {
	store := newFakeInstanceStore()
	service := NewStoreService(store, nil)

	// Dataset carries only patient attributes; the UIDs come from the
	// command group.
	data := encodeIdentifier(t, func(dataset *dicom.Dataset) {
		dataset.AddElement(tagPatientID, dicom.VR_LO, "PAT001")
	})
	msg := &types.Message{
		CommandField:           dimse.CStoreRQ,
		MessageID:              2,
		AffectedSOPClassUID:    types.MRImageStorage,
		AffectedSOPInstanceUID: "5.5.5",
		CommandDataSetType:     0x0000,
	}

	resp, _, err := service.HandleDIMSE(context.Background(), msg, data, testMeta())
	require.NoError(t, err)
	assert.Equal(t, uint16(dimse.StatusSuccess), resp.Status)

	require.Equal(t, 1, store.Count())
	assert.Equal(t, "5.5.5", store.instances[0].SOPInstanceUID)
	assert.Equal(t, types.MRImageStorage, store.instances[0].SOPClassUID)
}

func TestStoreService_HandleDIMSE_PersistenceFailureRefused(t *testing.T) {
	store := newFakeInstanceStore()
	store.storeErr = errors.New("disk full")
	service := NewStoreService(store, nil)

	data := instanceDataset(t, "PAT001", "Doe^Jane", "1.2.3")
	msg := &types.Message{
		CommandField:           dimse.CStoreRQ,
		MessageID:              3,
		AffectedSOPInstanceUID: "1.2.3",
		CommandDataSetType:     0x0000,
	}

	resp, _, err := service.HandleDIMSE(context.Background(), msg, data, testMeta())
	require.NoError(t, err)

	assert.Equal(t, uint16(dimse.StatusOutOfResources), resp.Status,
		"a failed store is refused, never acknowledged")
	assert.Zero(t, store.Count())
}
