package idgen

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// NewFunc returns a new globally unique trace identifier as string. It is
// implemented as a thin wrapper so tests can stub it.
var NewFunc = func() string { return uuid.New().String() }

// New returns a fresh trace identifier.
func New() string { return NewFunc() }

var seq atomic.Uint64

// NextSeq returns the next task sequence number. Sequence numbers are dense
// and strictly increasing within a process; they identify tasks in queue
// bookkeeping where a compact ordered key is preferable to a UUID.
func NextSeq() uint64 { return seq.Add(1) }
