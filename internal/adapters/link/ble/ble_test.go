package ble_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/okian/shotlink/internal/adapters/link/ble"
)

func TestSameAddress(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "C4:11:22:33:44:55", "C4:11:22:33:44:55", true},
		{"case", "c4:11:22:33:44:5a", "C4:11:22:33:44:5A", true},
		{"separators", "C4-11-22-33-44-55", "C41122334455", true},
		{"different", "C4:11:22:33:44:55", "C4:11:22:33:44:56", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ble.SameAddress(tt.a, tt.b))
		})
	}
}
