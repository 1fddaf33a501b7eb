package retrieve

// Kind identifies a retrieve progress event.
type Kind int

const (
	// KindResolved reports the destination lookup result for a known AE.
	KindResolved Kind = iota

	// KindCandidateCount reports the number of instances selected for
	// transfer, before any sub-operation starts.
	KindCandidateCount

	// KindTransferSucceeded reports one completed sub-operation.
	KindTransferSucceeded

	// KindTransferFailed reports one failed sub-operation. The retrieve
	// continues with the remaining instances.
	KindTransferFailed

	// KindDestinationUnknown terminates a retrieve whose destination AE
	// title is not in the destination registry.
	KindDestinationUnknown

	// KindDestinationUnavailable terminates a retrieve whose destination
	// refused or dropped the association.
	KindDestinationUnavailable

	// KindCancelled terminates a retrieve that was cancelled between
	// sub-operations. Transfers already completed stand.
	KindCancelled

	// KindFailed terminates a retrieve that could not select its
	// candidates, for example on a repository fault.
	KindFailed

	// KindCompleted terminates a retrieve that ran through its whole
	// candidate list.
	KindCompleted
)

// Event is one retrieve progress report. Which fields are populated depends
// on Kind; counters are cumulative.
type Event struct {
	Kind Kind

	// Destination address, set on KindResolved.
	Host string
	Port int

	// Capabilities the outbound association will propose, set on KindResolved.
	Capabilities []string

	// Count is the candidate total, set on KindCandidateCount.
	Count int

	// SOPInstanceUID identifies the sub-operation's instance on
	// KindTransferSucceeded and KindTransferFailed.
	SOPInstanceUID string

	// Status is the DIMSE status describing the event, when one applies.
	Status uint16

	// Sub-operation counters at the time of the event.
	Completed int
	Failed    int
	Remaining int

	// Err carries the underlying failure for failure kinds.
	Err error
}

// Terminal reports whether no further events follow this one.
func (e Event) Terminal() bool {
	switch e.Kind {
	case KindDestinationUnknown, KindDestinationUnavailable, KindCancelled, KindFailed, KindCompleted:
		return true
	}
	return false
}
