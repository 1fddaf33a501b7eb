package types

import "strings"

// QueryLevel represents the level of a C-FIND or C-MOVE identifier
type QueryLevel string

const (
	QueryLevelPatient QueryLevel = "PATIENT"
	QueryLevelStudy   QueryLevel = "STUDY"
	QueryLevelSeries  QueryLevel = "SERIES"
	QueryLevelImage   QueryLevel = "IMAGE"
)

// QueryRequest represents a parsed query identifier. An empty attribute
// value requests the attribute in results; a non-empty value filters on it.
type QueryRequest struct {
	Level             QueryLevel
	PatientID         string
	PatientName       string
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
}

// StoredInstance is the identifying record of one stored image. The durable
// payload is kept separately, keyed by SOPInstanceUID. Records are immutable
// after insertion and exclusively owned by the repository.
type StoredInstance struct {
	PatientID         string
	PatientName       string
	StudyInstanceUID  string
	SeriesInstanceUID string
	SOPInstanceUID    string
	SOPClassUID       string
	TransferSyntaxUID string
	PayloadSize       int64
}

// MatchResult is the attribute subset returned for one query match,
// deduplicated by the requested level's primary key.
type MatchResult struct {
	Level       QueryLevel
	PatientID   string
	PatientName string
}

// MatchesPatientID reports whether the instance belongs to the given
// patient under trimmed, exact string equality. No case folding, no
// partial matching.
func (s *StoredInstance) MatchesPatientID(patientID string) bool {
	return strings.TrimSpace(s.PatientID) == strings.TrimSpace(patientID)
}
