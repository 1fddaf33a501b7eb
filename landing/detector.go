package landing

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	dicomerrors "github.com/caio-sobreiro/pacsnode/errors"
)

// Options controls completion detection.
type Options struct {
	// Timeout bounds the whole wait. Default 10s.
	Timeout time.Duration

	// PollInterval is the delay between directory scans. Default 500ms.
	PollInterval time.Duration

	// RequiredStablePolls is how many consecutive scans must observe the
	// same file count before the set is considered complete. Default 2.
	RequiredStablePolls int
}

func (o *Options) withDefaults() Options {
	opts := Options{
		Timeout:             10 * time.Second,
		PollInterval:        500 * time.Millisecond,
		RequiredStablePolls: 2,
	}
	if o == nil {
		return opts
	}
	if o.Timeout > 0 {
		opts.Timeout = o.Timeout
	}
	if o.PollInterval > 0 {
		opts.PollInterval = o.PollInterval
	}
	if o.RequiredStablePolls > 0 {
		opts.RequiredStablePolls = o.RequiredStablePolls
	}
	return opts
}

// WaitForStable polls dir for *.dcm files until the count has been stable
// for the configured number of consecutive polls, then returns the sorted
// file paths. A transfer is deemed complete when no new files arrive
// between polls; there is no protocol-level completion signal to a move
// destination, so stability of the directory is the signal. A directory
// that stays empty completes with an empty set; zero transfers is a valid
// outcome, not a timeout.
//
// On timeout the files seen so far are returned together with a timeout
// error. Cancellation via ctx returns ctx.Err().
func WaitForStable(ctx context.Context, dir string, opts *Options, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := opts.withDefaults()

	deadline := time.Now().Add(o.Timeout)
	lastCount := -1
	stablePolls := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		files, err := filepath.Glob(filepath.Join(dir, "*.dcm"))
		if err != nil {
			return nil, err
		}
		sort.Strings(files)

		if len(files) == lastCount {
			stablePolls++
			if stablePolls >= o.RequiredStablePolls {
				logger.DebugContext(ctx, "Landing area stable",
					"dir", dir, "files", len(files), "polls", stablePolls)
				return files, nil
			}
		} else {
			stablePolls = 0
		}
		lastCount = len(files)

		if time.Now().After(deadline) {
			logger.WarnContext(ctx, "Landing area wait timed out",
				"dir", dir, "files", len(files))
			return files, dicomerrors.NewTimeoutError("landing-area wait", o.Timeout.String())
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.PollInterval):
		}
	}
}
