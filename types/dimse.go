// Package types contains the DICOM data model shared across the node:
// DIMSE messages, query structures, stored instance records, and the
// SOP class and transfer syntax registries.
package types

// Message represents a parsed DIMSE command
type Message struct {
	CommandField              uint16
	MessageID                 uint16
	AffectedSOPClassUID       string
	AffectedSOPInstanceUID    string
	RequestedSOPClassUID      string
	Priority                  uint16
	CommandDataSetType        uint16
	Status                    uint16
	MessageIDBeingRespondedTo uint16
	MoveDestination           string // For C-MOVE-RQ: the AE title of the move destination
	TransferSyntaxUID         string // Negotiated transfer syntax for associated dataset

	// C-MOVE response counters
	NumberOfRemainingSuboperations *uint16
	NumberOfCompletedSuboperations *uint16
	NumberOfFailedSuboperations    *uint16
	NumberOfWarningSuboperations   *uint16
}

// HasDataset reports whether the command announces an associated dataset.
// A CommandDataSetType of 0x0101 means "no data set present" per PS3.7.
func (m *Message) HasDataset() bool {
	return m.CommandDataSetType != 0x0101
}
