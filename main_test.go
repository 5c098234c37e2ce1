// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ffutop/modbus-rtu-slave/internal/config"
	"github.com/ffutop/modbus-rtu-slave/internal/slave/model"
	"github.com/ffutop/modbus-rtu-slave/internal/slave/seed"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestBuildModel(t *testing.T) {
	dir := t.TempDir()
	seedPath := writeFile(t, dir, "seed.yaml", `
blocks:
  - table: input_registers
    address: 3
    values: [7]
`)

	m, err := buildModel(config.SlaveConfig{Seed: seedPath, InputRegisters: 4, Coils: 8, DiscreteInputs: 8, HoldingRegisters: 8})
	if err != nil {
		t.Fatalf("buildModel() error = %v", err)
	}
	if m.InputRegisters[3] != 7 {
		t.Errorf("input register 3 = %d, want 7", m.InputRegisters[3])
	}

	bad := writeFile(t, dir, "bad.yaml", `
blocks:
  - table: input_registers
    address: 4
    values: [7]
`)
	if _, err := buildModel(config.SlaveConfig{Seed: bad, InputRegisters: 4}); err == nil {
		t.Error("buildModel() with out-of-range seed: expected error")
	}
}

func TestImageCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "slave.yaml", `
slave:
  coils: 8
  discrete_inputs: 8
  holding_registers: 4
  input_registers: 2
`)
	seedPath := writeFile(t, dir, "seed.yaml", `
blocks:
  - table: holding_registers
    address: 1
    values: [513]
  - table: coils
    address: 7
    values: [1]
`)
	out := filepath.Join(dir, "tables.bin")

	cmd := newRootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"image", "--config", cfgPath, "--seed", seedPath, "--out", out})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(stdout.String(), "4 holding registers") {
		t.Errorf("output = %q", stdout.String())
	}

	m := model.NewDataModel(model.Sizes{Coils: 8, DiscreteInputs: 8, HoldingRegisters: 4, InputRegisters: 2})
	if err := seed.Open(out).Apply(m); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if m.HoldingRegisters[1] != 513 || m.Coils[7] != 1 {
		t.Errorf("image not seeded: holding=%v coils=%v", m.HoldingRegisters, m.Coils)
	}
}
