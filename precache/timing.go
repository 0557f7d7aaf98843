package precache

import "time"

// Default polling intervals from §4.1 and §5. These are internal retry
// cadences, not user-facing deadlines: get_packet never fails on timeout, it
// retries until the worker replies or the process is killed. A Precacher
// uses these unless overridden via WithTimeouts (§6 "Configuration:
// Precacher"); config.Precacher carries the same three fields so a
// deployment can tune them from YAML.
const (
	DefaultRequestTimeout = time.Millisecond      // caller's wait-for-reply tick
	DefaultQueryTimeout   = 10 * time.Millisecond // worker's wait-for-request tick
	DefaultPrefillTimeout = 5 * time.Second       // bound on the warm-up pass
)

// Scratch ceilings (§6), clamped per process word size.
const (
	maxScratch64 = 6 << 30 // 6 GiB
	maxScratch32 = 2 << 30 // 2 GiB
)
