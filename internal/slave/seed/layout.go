// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package seed

import (
	"encoding/binary"

	"github.com/ffutop/modbus-rtu-slave/internal/slave/model"
)

// layout describes a binary table image for a given set of table sizes:
//
//	Coils            : 1 byte per coil (0 = OFF, anything else = ON)
//	DiscreteInputs   : 1 byte per input
//	HoldingRegisters : 2 bytes per register, big-endian
//	InputRegisters   : 2 bytes per register, big-endian
type layout struct {
	offsetCoils    int
	offsetDiscrete int
	offsetHolding  int
	offsetInput    int
	totalSize      int
}

func newLayout(sizes model.Sizes) layout {
	var l layout
	l.offsetCoils = 0
	l.offsetDiscrete = l.offsetCoils + sizes.Coils
	l.offsetHolding = l.offsetDiscrete + sizes.DiscreteInputs
	l.offsetInput = l.offsetHolding + sizes.HoldingRegisters*2
	l.totalSize = l.offsetInput + sizes.InputRegisters*2
	return l
}

// copyImage copies image into m. The image must be exactly l.totalSize
// bytes long. Endianness is fixed, so images are portable across hosts.
func (l layout) copyImage(image []byte, m *model.DataModel) {
	for i := range m.Coils {
		m.Coils[i] = bit(image[l.offsetCoils+i])
	}
	for i := range m.DiscreteInputs {
		m.DiscreteInputs[i] = bit(image[l.offsetDiscrete+i])
	}
	for i := range m.HoldingRegisters {
		m.HoldingRegisters[i] = binary.BigEndian.Uint16(image[l.offsetHolding+i*2:])
	}
	for i := range m.InputRegisters {
		m.InputRegisters[i] = binary.BigEndian.Uint16(image[l.offsetInput+i*2:])
	}
}

// encodeImage is the inverse of copyImage.
func (l layout) encodeImage(m *model.DataModel) []byte {
	image := make([]byte, l.totalSize)
	copy(image[l.offsetCoils:], m.Coils)
	copy(image[l.offsetDiscrete:], m.DiscreteInputs)
	for i, v := range m.HoldingRegisters {
		binary.BigEndian.PutUint16(image[l.offsetHolding+i*2:], v)
	}
	for i, v := range m.InputRegisters {
		binary.BigEndian.PutUint16(image[l.offsetInput+i*2:], v)
	}
	return image
}

func bit(b byte) byte {
	if b != 0 {
		return 1
	}
	return 0
}
