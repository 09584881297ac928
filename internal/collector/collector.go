// Package collector samples the host's process table.
// The Sampler does the two-pass CPU measurement; a ProcessTable supplies the
// per-process reads so the sampler can run against the OS or a fake.
package collector

import (
	"context"
	"errors"

	"github.com/Guliveer/procsnap/internal/models"
)

// ErrProcessGone is returned by a ProcessTable when a process exited or
// cannot be read (access denied) between listing and reading it.
var ErrProcessGone = errors.New("process gone or inaccessible")

// ProcessTable is the OS capability the sampler depends on.
type ProcessTable interface {
	// List enumerates the pids currently in the process table.
	// Each call starts a new sampling cycle and discards earlier baselines.
	List(ctx context.Context) ([]int32, error)

	// Prime takes a zero-window CPU reading for pid, establishing the
	// baseline that a later Read measures against.
	Prime(ctx context.Context, pid int32) error

	// Read returns the process figures, with CPU percent computed against
	// the delta since Prime. Unreadable optional figures are left zero.
	Read(ctx context.Context, pid int32) (models.ProcessRecord, error)
}
