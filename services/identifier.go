package services

import (
	"fmt"

	"github.com/caio-sobreiro/pacsnode/dicom"
	"github.com/caio-sobreiro/pacsnode/types"
)

// Query identifier tags used by the query/retrieve services.
var (
	tagSOPClassUID       = dicom.Tag{Group: 0x0008, Element: 0x0016}
	tagSOPInstanceUID    = dicom.Tag{Group: 0x0008, Element: 0x0018}
	tagQueryLevel        = dicom.Tag{Group: 0x0008, Element: 0x0052}
	tagPatientName       = dicom.Tag{Group: 0x0010, Element: 0x0010}
	tagPatientID         = dicom.Tag{Group: 0x0010, Element: 0x0020}
	tagStudyInstanceUID  = dicom.Tag{Group: 0x0020, Element: 0x000D}
	tagSeriesInstanceUID = dicom.Tag{Group: 0x0020, Element: 0x000E}
)

// parseQueryIdentifier decodes a C-FIND/C-MOVE identifier dataset into a
// query request. The dataset is decoded with the association's negotiated
// transfer syntax.
func parseQueryIdentifier(data []byte, transferSyntaxUID string) (*types.QueryRequest, error) {
	dataset, err := dicom.ParseDatasetWithTransferSyntax(data, transferSyntaxUID)
	if err != nil {
		return nil, fmt.Errorf("parse query identifier: %w", err)
	}

	return &types.QueryRequest{
		Level:             types.QueryLevel(dataset.GetString(tagQueryLevel)),
		PatientID:         dataset.GetString(tagPatientID),
		PatientName:       dataset.GetString(tagPatientName),
		StudyInstanceUID:  dataset.GetString(tagStudyInstanceUID),
		SeriesInstanceUID: dataset.GetString(tagSeriesInstanceUID),
		SOPInstanceUID:    dataset.GetString(tagSOPInstanceUID),
	}, nil
}

// buildMatchIdentifier encodes one query match as a C-FIND-RSP dataset.
func buildMatchIdentifier(res *types.MatchResult) *dicom.Dataset {
	dataset := dicom.NewDataset()
	dataset.AddElement(tagQueryLevel, dicom.VR_CS, string(res.Level))
	dataset.AddElement(tagPatientID, dicom.VR_LO, res.PatientID)
	dataset.AddElement(tagPatientName, dicom.VR_PN, res.PatientName)
	return dataset
}

// instanceFromDataset extracts the identifying attributes of a received
// composite instance.
func instanceFromDataset(dataset *dicom.Dataset, transferSyntaxUID string) *types.StoredInstance {
	return &types.StoredInstance{
		PatientID:         dataset.GetString(tagPatientID),
		PatientName:       dataset.GetString(tagPatientName),
		StudyInstanceUID:  dataset.GetString(tagStudyInstanceUID),
		SeriesInstanceUID: dataset.GetString(tagSeriesInstanceUID),
		SOPInstanceUID:    dataset.GetString(tagSOPInstanceUID),
		SOPClassUID:       dataset.GetString(tagSOPClassUID),
		TransferSyntaxUID: transferSyntaxUID,
	}
}
