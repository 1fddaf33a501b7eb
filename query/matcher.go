// Package query implements identifier matching over the instance
// repository for the query/retrieve service classes.
package query

import (
	"context"
	"log/slog"

	dicomerrors "github.com/caio-sobreiro/pacsnode/errors"
	"github.com/caio-sobreiro/pacsnode/interfaces"
	"github.com/caio-sobreiro/pacsnode/types"
)

// Matcher evaluates query identifiers against the instance repository.
//
// Matching is PATIENT level only: PatientID is the required key, compared
// with trimmed exact equality, and results are deduplicated by PatientID in
// repository insertion order. Other query levels yield zero matches rather
// than an error, so a conforming peer sees an empty result set.
type Matcher struct {
	store  interfaces.InstanceStore
	logger *slog.Logger
}

// NewMatcher creates a matcher over the given instance store.
func NewMatcher(store interfaces.InstanceStore, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{store: store, logger: logger}
}

// Match evaluates the query and calls emit once per match, in repository
// insertion order. A PATIENT level query without a PatientID returns
// ErrMissingQueryKey. Cancellation is checked before each emit and
// surfaces as ErrOperationCanceled; results already emitted stand.
func (m *Matcher) Match(ctx context.Context, req *types.QueryRequest, emit func(*types.MatchResult) error) error {
	if req.Level != types.QueryLevelPatient {
		m.logger.DebugContext(ctx, "Unsupported query level, returning no matches",
			"level", string(req.Level))
		return nil
	}

	if req.PatientID == "" {
		return dicomerrors.ErrMissingQueryKey
	}

	var emitErr error
	seen := false
	err := m.store.EachByPatient(req.PatientID, func(instance *types.StoredInstance) bool {
		// One result per patient; the repository walk is already filtered
		// to this PatientID, so the first record settles the result.
		if seen {
			return false
		}
		seen = true

		if ctx.Err() != nil {
			emitErr = dicomerrors.ErrOperationCanceled
			return false
		}

		emitErr = emit(&types.MatchResult{
			Level:       types.QueryLevelPatient,
			PatientID:   instance.PatientID,
			PatientName: instance.PatientName,
		})
		return emitErr == nil
	})
	if err != nil {
		return err
	}
	return emitErr
}

// MatchPatients collects the distinct PatientIDs that would match the query,
// in insertion order. Used by the retrieve orchestrator to resolve the
// candidate set before streaming.
func (m *Matcher) MatchPatients(ctx context.Context, req *types.QueryRequest) ([]string, error) {
	var patients []string
	err := m.Match(ctx, req, func(res *types.MatchResult) error {
		patients = append(patients, res.PatientID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return patients, nil
}
