// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package seed

import (
	"fmt"
	"os"

	"github.com/ffutop/modbus-rtu-slave/internal/slave/model"
	"gopkg.in/yaml.v3"
)

// Block sets consecutive values of one table starting at Address. For bit
// tables any non-zero value is ON.
type Block struct {
	Table   string   `yaml:"table"`
	Address uint16   `yaml:"address"`
	Values  []uint16 `yaml:"values"`
}

// Document is the YAML seed format:
//
//	blocks:
//	  - table: holding_registers
//	    address: 0
//	    values: [10, 20, 30]
//	  - table: coils
//	    address: 8
//	    values: [1, 0, 1]
type Document struct {
	Blocks []Block `yaml:"blocks"`
}

// YAMLSource seeds a data model from a YAML document.
type YAMLSource struct {
	path string
}

// NewYAMLSource creates a new YAMLSource.
func NewYAMLSource(path string) *YAMLSource {
	return &YAMLSource{path: path}
}

// Apply decodes the document and applies every block. Blocks are checked
// against table sizes before anything is written.
func (s *YAMLSource) Apply(m *model.DataModel) error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read seed: %w", err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode seed %s: %w", s.path, err)
	}
	return doc.Apply(m)
}

// Apply validates all blocks, then writes them in order.
func (d *Document) Apply(m *model.DataModel) error {
	tables := make([]model.TableType, len(d.Blocks))
	for i, b := range d.Blocks {
		t, err := model.ParseTableType(b.Table)
		if err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		if err := m.CheckRange(t, b.Address, len(b.Values)); err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		tables[i] = t
	}

	for i, b := range d.Blocks {
		for j, v := range b.Values {
			addr := int(b.Address) + j
			switch tables[i] {
			case model.TableCoils:
				m.Coils[addr] = bit16(v)
			case model.TableDiscreteInputs:
				m.DiscreteInputs[addr] = bit16(v)
			case model.TableHoldingRegisters:
				m.HoldingRegisters[addr] = v
			case model.TableInputRegisters:
				m.InputRegisters[addr] = v
			}
		}
	}
	return nil
}

func bit16(v uint16) byte {
	if v != 0 {
		return 1
	}
	return 0
}
