// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"testing"
)

func TestPackBits(t *testing.T) {
	tests := []struct {
		name string
		bits []byte
		want []byte
	}{
		{"Empty", []byte{}, []byte{}},
		{"SingleOn", []byte{1}, []byte{0x01}},
		{"FullByte", []byte{1, 0, 1, 1, 0, 0, 1, 1}, []byte{0xCD}},
		{"PartialPadded", []byte{1, 0, 1, 1, 0, 0, 1, 1, 1, 1}, []byte{0xCD, 0x03}},
		{"NonZeroIsOn", []byte{0, 0xFF, 7}, []byte{0x06}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PackBits(tt.bits)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("PackBits() = %X, want %X", got, tt.want)
			}
		})
	}
}

func TestUnpackBits(t *testing.T) {
	got := UnpackBits([]byte{0xCD, 0xFF}, 10)
	want := []byte{1, 0, 1, 1, 0, 0, 1, 1, 1, 1}
	if !bytes.Equal(got, want) {
		t.Errorf("UnpackBits() = %v, want %v", got, want)
	}

	if got := UnpackBits([]byte{0xFF}, 9); got != nil {
		t.Errorf("UnpackBits() with short data = %v, want nil", got)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	for n := 0; n <= 33; n++ {
		bits := make([]byte, n)
		for i := range bits {
			if (i*7+n)%3 == 0 {
				bits[i] = 1
			}
		}
		got := UnpackBits(PackBits(bits), n)
		if !bytes.Equal(got, bits) {
			t.Fatalf("round trip of %d bits: got %v, want %v", n, got, bits)
		}
	}
}
