package rpc

import "github.com/oklog/ulid/v2"

// newULID mirrors internal/stream's newID scheme, re-implemented locally
// to keep this package independent of internal/stream's unexported helper.
func newULID() string { return ulid.Make().String() }
