// Package reassm reorders one direction of a TCP flow into a contiguous,
// deduplicated byte stream and hands it to the flow's analyzers.
package reassm

// TCP sequence numbers live in a 32-bit cyclic space. Every comparison of
// two sequence numbers goes through these helpers; plain integer comparison
// is wrong near the wrap boundary.

func seqGT(a, b uint32) bool {
	return int32(a-b) > 0
}

func seqGE(a, b uint32) bool {
	return int32(a-b) >= 0
}
