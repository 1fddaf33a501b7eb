package types

import "testing"

func TestMessage_HasDataset(t *testing.T) {
	tests := []struct {
		name               string
		commandDataSetType uint16
		want               bool
	}{
		{"no dataset marker", 0x0101, false},
		{"dataset present", 0x0000, true},
		{"nonstandard nonzero value", 0x0001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &Message{CommandDataSetType: tt.commandDataSetType}
			if got := msg.HasDataset(); got != tt.want {
				t.Errorf("HasDataset() with 0x%04x = %v, want %v",
					tt.commandDataSetType, got, tt.want)
			}
		})
	}
}

func TestMessage_IsRequest(t *testing.T) {
	tests := []struct {
		name         string
		commandField uint16
		isRequest    bool
	}{
		{"C-FIND Request", 0x0020, true},
		{"C-FIND Response", 0x8020, false},
		{"C-ECHO Request", 0x0030, true},
		{"C-ECHO Response", 0x8030, false},
		{"C-STORE Request", 0x0001, true},
		{"C-STORE Response", 0x8001, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Response commands have bit 15 set (0x8000)
			isResponse := tt.commandField&0x8000 != 0
			isRequest := !isResponse

			if isRequest != tt.isRequest {
				t.Errorf("Command 0x%04x isRequest = %v, want %v",
					tt.commandField, isRequest, tt.isRequest)
			}
		})
	}
}

func TestMessage_ZeroValues(t *testing.T) {
	msg := &Message{}

	if msg.CommandField != 0 {
		t.Errorf("Zero Message CommandField = 0x%04x, want 0x0000", msg.CommandField)
	}
	if msg.MessageID != 0 {
		t.Errorf("Zero Message MessageID = %d, want 0", msg.MessageID)
	}
	if msg.AffectedSOPClassUID != "" {
		t.Errorf("Zero Message AffectedSOPClassUID = %q, want empty", msg.AffectedSOPClassUID)
	}
	if msg.Status != 0 {
		t.Errorf("Zero Message Status = 0x%04x, want 0x0000", msg.Status)
	}
	if msg.NumberOfRemainingSuboperations != nil {
		t.Error("Zero Message should have nil sub-operation counters")
	}
}
