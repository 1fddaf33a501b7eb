// Package landing manages the landing area a retrieve delivers into: the
// per-patient directories, the store handler that fills them, and the
// polling detector that decides when a delivery is complete.
package landing

import (
	"fmt"
	"os"
	"path/filepath"
)

// Area is the root directory retrieved instances land in. Instances are
// grouped in one directory per patient.
type Area struct {
	root string
}

// NewArea creates a landing area rooted at the given directory.
func NewArea(root string) *Area {
	return &Area{root: root}
}

// DirFor returns the landing directory of one patient's retrieved instances.
func (a *Area) DirFor(patientID string) string {
	return filepath.Join(a.root, "retrieved_"+patientID)
}

// Write stores one received instance as <dir>/<sopInstanceUID>.dcm,
// creating the patient directory on first use.
func (a *Area) Write(patientID, sopInstanceUID string, data []byte) (string, error) {
	if sopInstanceUID == "" {
		return "", fmt.Errorf("landing: missing SOPInstanceUID")
	}

	dir := a.DirFor(patientID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("landing: create %s: %w", dir, err)
	}

	path := filepath.Join(dir, sopInstanceUID+".dcm")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("landing: write %s: %w", path, err)
	}
	return path, nil
}
