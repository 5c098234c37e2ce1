// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package slave

import (
	"context"
	"encoding/binary"
	"log/slog"

	"github.com/ffutop/modbus-rtu-slave/internal/slave/model"
	"github.com/ffutop/modbus-rtu-slave/modbus"
)

const (
	runIndicatorOn = 0xFF

	diagReturnQueryData = 0x0000
)

// Slave implements the Modbus protocol logic on top of a DataModel. It owns
// the model and must be driven by a single goroutine.
type Slave struct {
	model *model.DataModel

	// ID and DeviceName are reported by Report Slave ID.
	ID         byte
	DeviceName string
}

// NewSlave creates a new Slave.
func NewSlave(m *model.DataModel) *Slave {
	return &Slave{model: m, ID: 1}
}

// Model returns the data model served by s.
func (s *Slave) Model() *model.DataModel {
	return s.model
}

// Handle adapts Process to transport.RequestHandler.
func (s *Slave) Handle(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	resp, err := s.Process(pdu)
	if err != nil {
		slog.Debug("request refused", "slaveID", slaveID, "func", pdu.FunctionCode, "err", err)
	}
	return resp, err
}

// Process executes the Modbus Function Code against the memory model.
// Refused requests return a *modbus.Exception; the model is only modified
// when every check has passed.
func (s *Slave) Process(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	switch req.FunctionCode {
	case modbus.FuncCodeReadCoils:
		return s.handleReadBits(req, s.model.ReadCoils)
	case modbus.FuncCodeReadDiscreteInputs:
		return s.handleReadBits(req, s.model.ReadDiscreteInputs)
	case modbus.FuncCodeReadHoldingRegisters:
		return s.handleReadRegisters(req, s.model.ReadHoldingRegisters)
	case modbus.FuncCodeReadInputRegisters:
		return s.handleReadRegisters(req, s.model.ReadInputRegisters)
	case modbus.FuncCodeWriteSingleCoil:
		return s.handleWriteSingleCoil(req)
	case modbus.FuncCodeWriteSingleRegister:
		return s.handleWriteSingleRegister(req)
	case modbus.FuncCodeReadExceptionStatus:
		return s.handleReadExceptionStatus(req)
	case modbus.FuncCodeDiagnostics:
		return s.handleDiagnostics(req)
	case modbus.FuncCodeWriteMultipleCoils:
		return s.handleWriteMultipleCoils(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return s.handleWriteMultipleRegisters(req)
	case modbus.FuncCodeReportSlaveID:
		return s.handleReportSlaveID(req)
	case modbus.FuncCodeMaskWriteRegister:
		return s.handleMaskWriteRegister(req)
	case modbus.FuncCodeReadWriteMultipleRegisters:
		return s.handleReadWriteMultipleRegisters(req)
	default:
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction, "unsupported function code 0x%02X", req.FunctionCode)
	}
}

func (s *Slave) handleReadBits(req modbus.ProtocolDataUnit, read func(address, quantity uint16) ([]byte, error)) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "request data length %d, want 4", len(req.Data))
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > modbus.MaxReadBits {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "quantity %d out of [1, %d]", quantity, modbus.MaxReadBits)
	}

	data, err := read(address, quantity)
	if err != nil {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress, "%v", err)
	}
	return withByteCount(req.FunctionCode, data), nil
}

func (s *Slave) handleReadRegisters(req modbus.ProtocolDataUnit, read func(address, quantity uint16) ([]byte, error)) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "request data length %d, want 4", len(req.Data))
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > modbus.MaxReadRegisters {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "quantity %d out of [1, %d]", quantity, modbus.MaxReadRegisters)
	}

	data, err := read(address, quantity)
	if err != nil {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress, "%v", err)
	}
	return withByteCount(req.FunctionCode, data), nil
}

func (s *Slave) handleWriteSingleCoil(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "request data length %d, want 4", len(req.Data))
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if value != modbus.CoilOn && value != modbus.CoilOff {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "coil value 0x%04X is neither 0x0000 nor 0xFF00", value)
	}
	if err := s.model.WriteSingleCoil(address, value); err != nil {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress, "%v", err)
	}
	return echo(req), nil
}

func (s *Slave) handleWriteSingleRegister(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 4 {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "request data length %d, want 4", len(req.Data))
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if err := s.model.WriteSingleRegister(address, value); err != nil {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress, "%v", err)
	}
	return echo(req), nil
}

func (s *Slave) handleWriteMultipleCoils(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) < 5 {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "request data length %d, want at least 5", len(req.Data))
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := int(req.Data[4])

	if quantity < 1 || quantity > modbus.MaxWriteCoils {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "quantity %d out of [1, %d]", quantity, modbus.MaxWriteCoils)
	}
	if byteCount != (int(quantity)+7)/8 || len(req.Data)-5 != byteCount {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "byte count %d does not match quantity %d", byteCount, quantity)
	}

	if err := s.model.WriteMultipleCoils(address, quantity, req.Data[5:]); err != nil {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress, "%v", err)
	}
	return addressQuantity(req.FunctionCode, address, quantity), nil
}

func (s *Slave) handleWriteMultipleRegisters(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) < 5 {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "request data length %d, want at least 5", len(req.Data))
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := int(req.Data[4])

	if quantity < 1 || quantity > modbus.MaxWriteRegisters {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "quantity %d out of [1, %d]", quantity, modbus.MaxWriteRegisters)
	}
	if byteCount != int(quantity)*2 || len(req.Data)-5 != byteCount {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "byte count %d does not match quantity %d", byteCount, quantity)
	}

	if err := s.model.WriteMultipleRegisters(address, quantity, req.Data[5:]); err != nil {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress, "%v", err)
	}
	return addressQuantity(req.FunctionCode, address, quantity), nil
}

// handleReadExceptionStatus reports the first eight coils as the exception
// status outputs.
func (s *Slave) handleReadExceptionStatus(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 0 {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "request data length %d, want 0", len(req.Data))
	}
	n := min(8, len(s.model.Coils))
	status := modbus.PackBits(s.model.Coils[:n])
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: status[:1]}, nil
}

// handleDiagnostics supports only sub-function 0x0000, Return Query Data.
func (s *Slave) handleDiagnostics(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) < 2 {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "request data length %d, want at least 2", len(req.Data))
	}
	sub := binary.BigEndian.Uint16(req.Data[0:2])
	if sub != diagReturnQueryData {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction, "unsupported diagnostics sub-function 0x%04X", sub)
	}
	return echo(req), nil
}

func (s *Slave) handleReportSlaveID(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 0 {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "request data length %d, want 0", len(req.Data))
	}
	// Byte count, slave id, run indicator and device name must fit a
	// 253-byte PDU.
	name := s.DeviceName
	if len(name) > 249 {
		name = name[:249]
	}
	data := make([]byte, 0, 3+len(name))
	data = append(data, byte(2+len(name)), s.ID, runIndicatorOn)
	data = append(data, name...)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: data}, nil
}

func (s *Slave) handleMaskWriteRegister(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) != 6 {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "request data length %d, want 6", len(req.Data))
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	andMask := binary.BigEndian.Uint16(req.Data[2:4])
	orMask := binary.BigEndian.Uint16(req.Data[4:6])

	if err := s.model.MaskWriteRegister(address, andMask, orMask); err != nil {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress, "%v", err)
	}
	return echo(req), nil
}

func (s *Slave) handleReadWriteMultipleRegisters(req modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error) {
	if len(req.Data) < 9 {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "request data length %d, want at least 9", len(req.Data))
	}
	readAddress := binary.BigEndian.Uint16(req.Data[0:2])
	readQuantity := binary.BigEndian.Uint16(req.Data[2:4])
	writeAddress := binary.BigEndian.Uint16(req.Data[4:6])
	writeQuantity := binary.BigEndian.Uint16(req.Data[6:8])
	byteCount := int(req.Data[8])

	if readQuantity < 1 || readQuantity > modbus.MaxReadRegisters {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "read quantity %d out of [1, %d]", readQuantity, modbus.MaxReadRegisters)
	}
	if writeQuantity < 1 || writeQuantity > modbus.MaxReadWriteRegisters {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "write quantity %d out of [1, %d]", writeQuantity, modbus.MaxReadWriteRegisters)
	}
	if byteCount != int(writeQuantity)*2 || len(req.Data)-9 != byteCount {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue, "byte count %d does not match write quantity %d", byteCount, writeQuantity)
	}
	// Both ranges are checked before the write so a bad read range leaves
	// the table untouched.
	if err := s.model.CheckRange(model.TableHoldingRegisters, readAddress, int(readQuantity)); err != nil {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress, "%v", err)
	}
	if err := s.model.WriteMultipleRegisters(writeAddress, writeQuantity, req.Data[9:]); err != nil {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress, "%v", err)
	}

	data, err := s.model.ReadHoldingRegisters(readAddress, readQuantity)
	if err != nil {
		return s.exception(req.FunctionCode, modbus.ExceptionCodeSlaveDeviceFailure, "%v", err)
	}
	return withByteCount(req.FunctionCode, data), nil
}

func (s *Slave) exception(funcCode byte, code modbus.ExceptionCode, format string, args ...any) (modbus.ProtocolDataUnit, error) {
	return modbus.ProtocolDataUnit{}, modbus.NewException(funcCode, code, format, args...)
}

func withByteCount(funcCode byte, data []byte) modbus.ProtocolDataUnit {
	respData := make([]byte, 1+len(data))
	respData[0] = byte(len(data))
	copy(respData[1:], data)
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode,
		Data:         respData,
	}
}

func addressQuantity(funcCode byte, address, quantity uint16) modbus.ProtocolDataUnit {
	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode,
		Data:         respData,
	}
}

// echo copies the request, since its data aliases the inbound frame buffer.
func echo(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	data := make([]byte, len(req.Data))
	copy(data, req.Data)
	return modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: data}
}
