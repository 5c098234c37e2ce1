// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"

	"github.com/ffutop/modbus-rtu-slave/modbus"
)

// ErrInvalidLength is returned when a request header announces a frame
// larger than MaxSize.
var ErrInvalidLength = errors.New("modbus: request length exceeds maximum RTU frame size")

// CalculateRequestLength returns the expected total length of the request
// RTU ADU based on the bytes received so far. A zero length with a nil error
// means the header is still incomplete.
func CalculateRequestLength(header []byte) (int, error) {
	if len(header) < 2 {
		return 0, nil
	}
	funcCode := header[1]

	switch funcCode {
	case modbus.FuncCodeReadCoils,
		modbus.FuncCodeReadDiscreteInputs,
		modbus.FuncCodeReadHoldingRegisters,
		modbus.FuncCodeReadInputRegisters,
		modbus.FuncCodeWriteSingleCoil,
		modbus.FuncCodeWriteSingleRegister,
		modbus.FuncCodeDiagnostics:
		// [SlaveID, Func, Appd(4), CRC(2)]
		return 8, nil
	case modbus.FuncCodeReadExceptionStatus,
		modbus.FuncCodeReportSlaveID:
		// [SlaveID, Func, CRC(2)]
		return 4, nil
	case modbus.FuncCodeMaskWriteRegister:
		// [SlaveID, Func, Addr(2), AndMask(2), OrMask(2), CRC(2)]
		return 10, nil
	case modbus.FuncCodeWriteMultipleCoils,
		modbus.FuncCodeWriteMultipleRegisters:
		// [SlaveID, Func, Addr(2), Quant(2), ByteCount(1), Data(N), CRC(2)]
		return variableLength(header, 6)
	case modbus.FuncCodeReadWriteMultipleRegisters:
		// [SlaveID, Func, RAddr(2), RQuant(2), WAddr(2), WQuant(2), ByteCount(1), Data(N), CRC(2)]
		return variableLength(header, 10)
	default:
		return 0, modbus.NewException(funcCode, modbus.ExceptionCodeIllegalFunction,
			"unsupported function code: 0x%02X", funcCode)
	}
}

// variableLength resolves a frame whose byte count field sits at offset.
func variableLength(header []byte, offset int) (int, error) {
	if len(header) <= offset {
		return 0, nil
	}
	length := offset + 1 + int(header[offset]) + crcSize
	if length > MaxSize {
		return 0, fmt.Errorf("%w: function 0x%02X announces %d bytes", ErrInvalidLength, header[1], length)
	}
	return length, nil
}

// RequestSizer resolves the length of one request frame at a time. Once
// resolved the length is cached, so later bytes are never read as header
// fields. The zero value is ready to use; call Reset between frames.
type RequestSizer struct {
	length int
}

// Resolve returns the total frame length, or zero while it is not yet known.
func (s *RequestSizer) Resolve(adu []byte) (int, error) {
	if s.length != 0 {
		return s.length, nil
	}
	length, err := CalculateRequestLength(adu)
	if err != nil {
		return 0, err
	}
	s.length = length
	return length, nil
}

// Length returns the cached length, zero if unresolved.
func (s *RequestSizer) Length() int {
	return s.length
}

func (s *RequestSizer) Reset() {
	s.length = 0
}
