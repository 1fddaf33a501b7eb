package dimse

import (
	"testing"

	"github.com/caio-sobreiro/pacsnode/types"
)

func uint16Ptr(v uint16) *uint16 { return &v }

func TestEncodeDecodeCommand_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *types.Message
	}{
		{
			name: "C-ECHO-RQ",
			msg: &types.Message{
				CommandField:        CEchoRQ,
				MessageID:           1,
				AffectedSOPClassUID: types.VerificationSOPClass,
				CommandDataSetType:  0x0101,
			},
		},
		{
			name: "C-STORE-RQ with instance UID",
			msg: &types.Message{
				CommandField:           CStoreRQ,
				MessageID:              10,
				Priority:               0x0002,
				AffectedSOPClassUID:    types.CTImageStorage,
				AffectedSOPInstanceUID: "1.2.3.4.5.6.7.8.9",
				CommandDataSetType:     0x0000,
			},
		},
		{
			name: "C-MOVE-RQ with destination",
			msg: &types.Message{
				CommandField:        CMoveRQ,
				MessageID:           3,
				Priority:            0x0002,
				AffectedSOPClassUID: types.PatientRootQueryRetrieveInformationModelMove,
				MoveDestination:     "TESTSCU",
				CommandDataSetType:  0x0000,
			},
		},
		{
			name: "C-MOVE-RSP pending with counters",
			msg: &types.Message{
				CommandField:                   CMoveRSP,
				MessageIDBeingRespondedTo:      3,
				AffectedSOPClassUID:            types.PatientRootQueryRetrieveInformationModelMove,
				CommandDataSetType:             0x0101,
				Status:                         StatusPending,
				NumberOfRemainingSuboperations: uint16Ptr(4),
				NumberOfCompletedSuboperations: uint16Ptr(2),
				NumberOfFailedSuboperations:    uint16Ptr(1),
				NumberOfWarningSuboperations:   uint16Ptr(0),
			},
		},
		{
			name: "C-CANCEL-RQ",
			msg: &types.Message{
				CommandField:              CCancelRQ,
				MessageIDBeingRespondedTo: 9,
				CommandDataSetType:        0x0101,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := EncodeCommand(tt.msg)
			if err != nil {
				t.Fatalf("EncodeCommand failed: %v", err)
			}

			decoded, err := DecodeCommand(encoded)
			if err != nil {
				t.Fatalf("DecodeCommand failed: %v", err)
			}

			if decoded.CommandField != tt.msg.CommandField {
				t.Errorf("CommandField = 0x%04x, want 0x%04x", decoded.CommandField, tt.msg.CommandField)
			}
			if decoded.MessageID != tt.msg.MessageID {
				t.Errorf("MessageID = %d, want %d", decoded.MessageID, tt.msg.MessageID)
			}
			if decoded.MessageIDBeingRespondedTo != tt.msg.MessageIDBeingRespondedTo {
				t.Errorf("MessageIDBeingRespondedTo = %d, want %d",
					decoded.MessageIDBeingRespondedTo, tt.msg.MessageIDBeingRespondedTo)
			}
			if decoded.AffectedSOPClassUID != tt.msg.AffectedSOPClassUID {
				t.Errorf("AffectedSOPClassUID = %q, want %q",
					decoded.AffectedSOPClassUID, tt.msg.AffectedSOPClassUID)
			}
			if decoded.AffectedSOPInstanceUID != tt.msg.AffectedSOPInstanceUID {
				t.Errorf("AffectedSOPInstanceUID = %q, want %q",
					decoded.AffectedSOPInstanceUID, tt.msg.AffectedSOPInstanceUID)
			}
			if decoded.MoveDestination != tt.msg.MoveDestination {
				t.Errorf("MoveDestination = %q, want %q",
					decoded.MoveDestination, tt.msg.MoveDestination)
			}
			if decoded.Status != tt.msg.Status {
				t.Errorf("Status = 0x%04x, want 0x%04x", decoded.Status, tt.msg.Status)
			}
			if decoded.CommandDataSetType != tt.msg.CommandDataSetType {
				t.Errorf("CommandDataSetType = 0x%04x, want 0x%04x",
					decoded.CommandDataSetType, tt.msg.CommandDataSetType)
			}

			checkCounter(t, "Remaining", decoded.NumberOfRemainingSuboperations, tt.msg.NumberOfRemainingSuboperations)
			checkCounter(t, "Completed", decoded.NumberOfCompletedSuboperations, tt.msg.NumberOfCompletedSuboperations)
			checkCounter(t, "Failed", decoded.NumberOfFailedSuboperations, tt.msg.NumberOfFailedSuboperations)
		})
	}
}

func checkCounter(t *testing.T, name string, got, want *uint16) {
	t.Helper()
	switch {
	case want == nil && got != nil:
		t.Errorf("%s = %d, want absent", name, *got)
	case want != nil && got == nil:
		t.Errorf("%s absent, want %d", name, *want)
	case want != nil && got != nil && *got != *want:
		t.Errorf("%s = %d, want %d", name, *got, *want)
	}
}

func TestDecodeCommand_MissingCommandField(t *testing.T) {
	// A stray group element with no CommandField must be rejected.
	buf := AppendImplicitElement(nil, 0x0000, 0x0800, []byte{0x01, 0x01})
	if _, err := DecodeCommand(buf); err == nil {
		t.Error("Expected error for command without CommandField")
	}
}

func TestHasDataset(t *testing.T) {
	withDataset := &types.Message{CommandDataSetType: 0x0000}
	if !withDataset.HasDataset() {
		t.Error("CommandDataSetType 0x0000 should indicate a dataset")
	}

	noDataset := &types.Message{CommandDataSetType: 0x0101}
	if noDataset.HasDataset() {
		t.Error("CommandDataSetType 0x0101 should indicate no dataset")
	}
}
