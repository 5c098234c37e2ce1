// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package modbus holds the protocol vocabulary shared by the RTU framer,
// the serial server and the local slave: function codes, exception codes
// and the protocol data unit.
package modbus

import (
	"errors"
	"fmt"
)

// Function codes
const (
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeReadExceptionStatus    = 0x07
	FuncCodeDiagnostics            = 0x08
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10
	FuncCodeReportSlaveID          = 0x11
	FuncCodeMaskWriteRegister      = 0x16

	FuncCodeReadWriteMultipleRegisters = 0x17
)

// ExceptionFlag is set on the function code of an exception response.
const ExceptionFlag = 0x80

// Quantity limits from the Modbus application protocol.
const (
	MaxReadBits           = 2000
	MaxReadRegisters      = 125
	MaxWriteCoils         = 0x07B0
	MaxWriteRegisters     = 123
	MaxReadWriteRegisters = 121
)

// Write Single Coil values.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// ExceptionCode is the one-byte code carried by an exception response.
type ExceptionCode byte

const (
	ExceptionCodeIllegalFunction                    ExceptionCode = 1
	ExceptionCodeIllegalDataAddress                 ExceptionCode = 2
	ExceptionCodeIllegalDataValue                   ExceptionCode = 3
	ExceptionCodeSlaveDeviceFailure                 ExceptionCode = 4
	ExceptionCodeAcknowledge                        ExceptionCode = 5
	ExceptionCodeSlaveDeviceBusy                    ExceptionCode = 6
	ExceptionCodeMemoryParityError                  ExceptionCode = 8
	ExceptionCodeGatewayPathUnavailable             ExceptionCode = 10
	ExceptionCodeGatewayTargetDeviceFailedToRespond ExceptionCode = 11
)

func (e ExceptionCode) String() string {
	switch e {
	case ExceptionCodeIllegalFunction:
		return "illegal function"
	case ExceptionCodeIllegalDataAddress:
		return "illegal data address"
	case ExceptionCodeIllegalDataValue:
		return "illegal data value"
	case ExceptionCodeSlaveDeviceFailure:
		return "slave device failure"
	case ExceptionCodeAcknowledge:
		return "acknowledge"
	case ExceptionCodeSlaveDeviceBusy:
		return "slave device busy"
	case ExceptionCodeMemoryParityError:
		return "memory parity error"
	case ExceptionCodeGatewayPathUnavailable:
		return "gateway path unavailable"
	case ExceptionCodeGatewayTargetDeviceFailedToRespond:
		return "gateway target device failed to respond"
	default:
		return fmt.Sprintf("unknown exception (0x%02X)", byte(e))
	}
}

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Exception is the error returned for any request the slave refuses. It is
// turned into an exception response on the wire.
type Exception struct {
	FunctionCode byte
	Code         ExceptionCode
	Message      string
}

// NewException builds an Exception with a formatted diagnostic message.
func NewException(functionCode byte, code ExceptionCode, format string, args ...any) *Exception {
	return &Exception{
		FunctionCode: functionCode,
		Code:         code,
		Message:      fmt.Sprintf(format, args...),
	}
}

func (e *Exception) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("modbus: exception '%v' (%s), function '%v'", byte(e.Code), e.Code, e.FunctionCode)
	}
	return fmt.Sprintf("modbus: exception '%v' (%s), function '%v': %s", byte(e.Code), e.Code, e.FunctionCode, e.Message)
}

// Is reports whether target is an Exception with the same exception code.
func (e *Exception) Is(target error) bool {
	t, ok := target.(*Exception)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// PDU returns the exception response PDU.
func (e *Exception) PDU() ProtocolDataUnit {
	return ProtocolDataUnit{
		FunctionCode: e.FunctionCode | ExceptionFlag,
		Data:         []byte{byte(e.Code)},
	}
}

// IsException reports whether err carries the given exception code.
func IsException(err error, code ExceptionCode) bool {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc.Code == code
	}
	return false
}

func IsIllegalFunction(err error) bool {
	return IsException(err, ExceptionCodeIllegalFunction)
}

func IsIllegalDataAddress(err error) bool {
	return IsException(err, ExceptionCodeIllegalDataAddress)
}

func IsIllegalDataValue(err error) bool {
	return IsException(err, ExceptionCodeIllegalDataValue)
}
