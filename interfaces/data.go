package interfaces

import (
	"context"

	"github.com/caio-sobreiro/pacsnode/types"
)

// InstanceStore is the contract the service classes require from the
// instance repository: durable storage keyed by SOPInstanceUID plus an
// insertion-ordered walk over the records of one patient.
type InstanceStore interface {
	// Store persists the payload durably and indexes the instance record.
	// A persistence failure is returned to the caller, never swallowed.
	Store(ctx context.Context, instance *types.StoredInstance, payload []byte) error

	// EachByPatient visits stored instances whose trimmed PatientID equals
	// the given one, in insertion order. Returning false from visit stops
	// the walk early. The walk is restartable: each call starts over.
	EachByPatient(patientID string, visit func(*types.StoredInstance) bool) error

	// Payload fetches the durable payload for a stored instance.
	Payload(sopInstanceUID string) ([]byte, error)

	// Count reports the number of stored instances.
	Count() int
}

// Session is one outbound transfer session to a resolved destination.
// A session carries exactly one instance; sessions are never reused.
type Session interface {
	// SendInstance transfers the payload and returns the remote status code.
	SendInstance(instance *types.StoredInstance, payload []byte) (uint16, error)
	Close() error
}

// SessionOpener establishes outbound sessions for the retrieve orchestrator.
type SessionOpener interface {
	Open(ctx context.Context, host string, port int, calledAETitle string, capabilities []string) (Session, error)
}
