// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

import "github.com/sigurn/crc16"

var table = crc16.MakeTable(crc16.CRC16_MODBUS)

// CRC accumulates a Modbus CRC16 (reflected poly 0xA001, init 0xFFFF).
type CRC struct {
	value uint16
}

func (crc *CRC) Reset() *CRC {
	crc.value = crc16.Init(table)
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	crc.value = crc16.Update(crc.value, bs, table)
	return crc
}

func (crc *CRC) Value() uint16 {
	return crc16.Complete(crc.value, table)
}

// Checksum returns the Modbus CRC16 of bs in host order. On the wire it is
// sent low byte first.
func Checksum(bs []byte) uint16 {
	return crc16.Checksum(bs, table)
}

// Append appends the checksum of bs to bs, low byte first.
func Append(bs []byte) []byte {
	sum := Checksum(bs)
	return append(bs, byte(sum), byte(sum>>8))
}
