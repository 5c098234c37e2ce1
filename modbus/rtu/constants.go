// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

const (
	// MinSize is slave id, function code and CRC.
	MinSize = 4
	// MaxSize is the largest RS232/RS485 ADU: 253 bytes of PDU,
	// slave id and CRC.
	MaxSize = 256

	ExceptionSize = 5

	crcSize = 2
)
