// Package entropy computes byte-level Shannon entropy.
package entropy

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// High is the bits-per-byte level treated as packed or encrypted content.
const High = 7.0

// Shannon returns the entropy of data in bits per byte, in [0, 8].
func Shannon(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var counts [256]float64
	for _, b := range data {
		counts[b]++
	}
	n := float64(len(data))
	p := make([]float64, 0, 256)
	for _, c := range counts {
		if c > 0 {
			p = append(p, c/n)
		}
	}
	// stat.Entropy uses the natural log
	return stat.Entropy(p) / math.Ln2
}
