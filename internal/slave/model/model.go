// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ffutop/modbus-rtu-slave/modbus"
)

const (
	// MaxTableSize covers the full 16-bit address space.
	MaxTableSize = 65536
	// DefaultTableSize is used for any table whose size is not configured.
	DefaultTableSize = 1024
)

// ErrAddressOutOfRange is returned when a request touches addresses beyond
// the end of a table.
var ErrAddressOutOfRange = errors.New("address range out of bounds")

// TableType represents the type of Modbus data table.
type TableType int

const (
	TableCoils TableType = iota
	TableDiscreteInputs
	TableHoldingRegisters
	TableInputRegisters
)

func (t TableType) String() string {
	switch t {
	case TableCoils:
		return "coils"
	case TableDiscreteInputs:
		return "discrete_inputs"
	case TableHoldingRegisters:
		return "holding_registers"
	case TableInputRegisters:
		return "input_registers"
	default:
		return fmt.Sprintf("table(%d)", int(t))
	}
}

// ParseTableType is the inverse of TableType.String.
func ParseTableType(s string) (TableType, error) {
	for _, t := range []TableType{TableCoils, TableDiscreteInputs, TableHoldingRegisters, TableInputRegisters} {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown table %q", s)
}

// Sizes holds the number of entries in each table.
type Sizes struct {
	Coils            int
	DiscreteInputs   int
	HoldingRegisters int
	InputRegisters   int
}

// DataModel holds the modbus data in memory. Table lengths never change
// after construction. It is owned by a single slave and is not safe for
// concurrent use.
type DataModel struct {
	// 0x Coils (Read/Write). Stored as 1 (ON) or 0 (OFF).
	Coils []byte
	// 1x Discrete Inputs (Read Only). Stored as 1 (ON) or 0 (OFF).
	DiscreteInputs []byte
	// 4x Holding Registers (Read/Write).
	HoldingRegisters []uint16
	// 3x Input Registers (Read Only).
	InputRegisters []uint16
}

// NewDataModel creates a new memory model initialized to zero. Sizes that
// are zero fall back to DefaultTableSize.
func NewDataModel(sizes Sizes) *DataModel {
	return &DataModel{
		Coils:            make([]byte, sizeOrDefault(sizes.Coils)),
		DiscreteInputs:   make([]byte, sizeOrDefault(sizes.DiscreteInputs)),
		HoldingRegisters: make([]uint16, sizeOrDefault(sizes.HoldingRegisters)),
		InputRegisters:   make([]uint16, sizeOrDefault(sizes.InputRegisters)),
	}
}

func sizeOrDefault(n int) int {
	if n <= 0 {
		return DefaultTableSize
	}
	if n > MaxTableSize {
		return MaxTableSize
	}
	return n
}

// Sizes reports the table lengths.
func (m *DataModel) Sizes() Sizes {
	return Sizes{
		Coils:            len(m.Coils),
		DiscreteInputs:   len(m.DiscreteInputs),
		HoldingRegisters: len(m.HoldingRegisters),
		InputRegisters:   len(m.InputRegisters),
	}
}

// ReadCoils reads a range of coils and returns them as packed bytes (Modbus format).
func (m *DataModel) ReadCoils(address, quantity uint16) ([]byte, error) {
	if err := validateRange(address, quantity, len(m.Coils)); err != nil {
		return nil, err
	}
	return modbus.PackBits(m.Coils[address : int(address)+int(quantity)]), nil
}

// ReadDiscreteInputs reads a range of discrete inputs and returns them as packed bytes.
func (m *DataModel) ReadDiscreteInputs(address, quantity uint16) ([]byte, error) {
	if err := validateRange(address, quantity, len(m.DiscreteInputs)); err != nil {
		return nil, err
	}
	return modbus.PackBits(m.DiscreteInputs[address : int(address)+int(quantity)]), nil
}

// ReadHoldingRegisters reads a range of holding registers and returns them as BigEndian bytes.
func (m *DataModel) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	return readRegisters(m.HoldingRegisters, address, quantity)
}

// ReadInputRegisters reads a range of input registers and returns them as BigEndian bytes.
func (m *DataModel) ReadInputRegisters(address, quantity uint16) ([]byte, error) {
	return readRegisters(m.InputRegisters, address, quantity)
}

func readRegisters(table []uint16, address, quantity uint16) ([]byte, error) {
	if err := validateRange(address, quantity, len(table)); err != nil {
		return nil, err
	}
	result := make([]byte, int(quantity)*2)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(result[i*2:], table[int(address)+i])
	}
	return result, nil
}

// WriteSingleCoil writes a single coil. value must be 0xFF00 (ON) or 0x0000 (OFF).
func (m *DataModel) WriteSingleCoil(address uint16, value uint16) error {
	if value != modbus.CoilOn && value != modbus.CoilOff {
		return fmt.Errorf("invalid coil value 0x%04X", value)
	}
	if err := validateRange(address, 1, len(m.Coils)); err != nil {
		return err
	}
	if value == modbus.CoilOn {
		m.Coils[address] = 1
	} else {
		m.Coils[address] = 0
	}
	return nil
}

// WriteMultipleCoils writes a range of coils from packed bytes.
func (m *DataModel) WriteMultipleCoils(address, quantity uint16, data []byte) error {
	if err := validateRange(address, quantity, len(m.Coils)); err != nil {
		return err
	}
	bits := modbus.UnpackBits(data, int(quantity))
	if bits == nil {
		return fmt.Errorf("insufficient data length")
	}
	copy(m.Coils[address:], bits)
	return nil
}

// WriteSingleRegister writes a single holding register.
func (m *DataModel) WriteSingleRegister(address uint16, value uint16) error {
	if err := validateRange(address, 1, len(m.HoldingRegisters)); err != nil {
		return err
	}
	m.HoldingRegisters[address] = value
	return nil
}

// WriteMultipleRegisters writes a range of holding registers from BigEndian bytes.
func (m *DataModel) WriteMultipleRegisters(address, quantity uint16, data []byte) error {
	if err := validateRange(address, quantity, len(m.HoldingRegisters)); err != nil {
		return err
	}
	if len(data) < int(quantity)*2 {
		return fmt.Errorf("insufficient data length")
	}
	for i := 0; i < int(quantity); i++ {
		m.HoldingRegisters[int(address)+i] = binary.BigEndian.Uint16(data[i*2:])
	}
	return nil
}

// MaskWriteRegister applies (current AND andMask) OR (orMask AND NOT andMask)
// to a holding register.
func (m *DataModel) MaskWriteRegister(address, andMask, orMask uint16) error {
	if err := validateRange(address, 1, len(m.HoldingRegisters)); err != nil {
		return err
	}
	current := m.HoldingRegisters[address]
	m.HoldingRegisters[address] = (current & andMask) | (orMask &^ andMask)
	return nil
}

// CheckRange reports whether [address, address+count) fits the table.
func (m *DataModel) CheckRange(table TableType, address uint16, count int) error {
	var size int
	switch table {
	case TableCoils:
		size = len(m.Coils)
	case TableDiscreteInputs:
		size = len(m.DiscreteInputs)
	case TableHoldingRegisters:
		size = len(m.HoldingRegisters)
	case TableInputRegisters:
		size = len(m.InputRegisters)
	default:
		return fmt.Errorf("unknown table %v", table)
	}
	if int(address)+count > size {
		return fmt.Errorf("%w: %d+%d > %d", ErrAddressOutOfRange, address, count, size)
	}
	return nil
}

// validateRange uses an exclusive upper bound: a range may end exactly at
// the end of the table.
func validateRange(address, quantity uint16, size int) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	if int(address)+int(quantity) > size {
		return fmt.Errorf("%w: %d+%d > %d", ErrAddressOutOfRange, address, quantity, size)
	}
	return nil
}
