// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

// PackBits packs one-bit-per-byte values into Modbus wire format: eight bits
// per byte, first bit in the least significant position, last byte
// zero-padded. Any non-zero input byte is an ON bit.
func PackBits(bits []byte) []byte {
	result := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b != 0 {
			result[i/8] |= 1 << uint(i%8)
		}
	}
	return result
}

// UnpackBits is the inverse of PackBits. It reads exactly count bits and
// returns nil if data is too short to hold them.
func UnpackBits(data []byte, count int) []byte {
	if count < 0 || len(data) < (count+7)/8 {
		return nil
	}
	result := make([]byte, count)
	for i := 0; i < count; i++ {
		result[i] = (data[i/8] >> uint(i%8)) & 1
	}
	return result
}
