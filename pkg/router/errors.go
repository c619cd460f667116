package router

import "errors"

// ErrTableFull is returned by AddPort/AddRemote callers that choose to
// enforce a capacity bound on top of Table (Table itself grows without
// eviction, per spec). The core never returns this on its own; it exists
// so an embedder that does cap table size has a distinguishable sentinel
// to surface as the §7 "fatal; the process terminates" condition, rather
// than the reference's direct exit(3) call. Terminating the process is the
// host's decision, not this package's.
var ErrTableFull = errors.New("routing table capacity exhausted")
