package precache

import "math/bits"

// clampScratch bounds a requested buffer size to the compile-time ceiling
// for this process's word size (§6: "typically 6 GiB on 64-bit, 2 GiB on
// 32-bit").
func clampScratch(requested int64) int64 {
	ceiling := int64(maxScratch32)
	if bits.UintSize == 64 {
		ceiling = int64(maxScratch64)
	}
	if requested <= 0 {
		return ceiling
	}
	if requested > ceiling {
		return ceiling
	}
	return requested
}
