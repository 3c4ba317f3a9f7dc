package library

import (
	"time"

	"eventflux/pkg/eventbus"
	"eventflux/pkg/eventstore"
	"eventflux/pkg/reducer"
)

// Argon2Params mirrors internal/membership/password.go's hard-coded
// tuning (time=1, memory=64MiB, threads=4, keyLen=32), lifted into
// configuration instead of being baked into the hashing function.
type Argon2Params struct {
	Time    uint32
	MemoryKiB uint32
	Threads uint8
	KeyLen  uint32
}

// DefaultArgon2Params matches the teacher's password.go constants.
var DefaultArgon2Params = Argon2Params{Time: 1, MemoryKiB: 64 * 1024, Threads: 4, KeyLen: 32}

// JWTConfig configures session token issuance (internal/membership never
// had this; it is the natural home per SPEC_FULL.md §3).
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	TTL      time.Duration
}

// Env is the reducer environment: every external dependency a library
// command's effects need, injected so the reducer stays pure and
// deterministic given its state/action/env triple.
type Env struct {
	Store   eventstore.Store
	Bus     eventbus.Bus
	Clock   reducer.Clock
	Argon2  Argon2Params
	JWT     JWTConfig
	DefaultLoan time.Duration
}
