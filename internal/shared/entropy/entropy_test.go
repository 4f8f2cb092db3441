package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShannon(t *testing.T) {
	uniform := make([]byte, 256)
	for i := range uniform {
		uniform[i] = byte(i)
	}

	tests := []struct {
		name string
		data []byte
		want float64
	}{
		{"empty", nil, 0},
		{"constant", []byte("aaaaaaaa"), 0},
		{"two symbols", []byte("abababab"), 1},
		{"uniform", uniform, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Shannon(tt.data), 1e-9)
		})
	}
}
