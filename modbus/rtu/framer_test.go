// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ffutop/modbus-rtu-slave/modbus"
)

func TestCalculateRequestLength(t *testing.T) {
	tests := []struct {
		name    string
		header  []byte
		want    int
		wantErr bool
	}{
		{"SlaveIDOnly", []byte{0x01}, 0, false},
		{"ReadHoldingRegisters", []byte{0x01, 0x03}, 8, false},
		{"ReadHoldingRegistersFullHeader", []byte{0x01, 0x03, 0x12, 0x34, 0x00, 0x7D}, 8, false},
		{"ReadCoils", []byte{0x01, 0x01}, 8, false},
		{"WriteSingleRegister", []byte{0x01, 0x06, 0x00, 0x00, 0xAA, 0xBB}, 8, false},
		{"ReadExceptionStatus", []byte{0x01, 0x07}, 4, false},
		{"MaskWriteRegister", []byte{0x01, 0x16}, 10, false},
		{"WriteMultipleRegisters_ShortHeader", []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01}, 0, false},
		{"WriteMultipleRegisters_Valid", []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01, 0x02}, 1 + 5 + 1 + 2 + 2, false},
		{"WriteMultipleCoils_Valid", []byte{0x01, 0x0F, 0x00, 0x00, 0x00, 0x0A, 0x02}, 1 + 5 + 1 + 2 + 2, false},
		{"WriteMultipleRegisters_MaxFits", []byte{0x01, 0x10, 0x00, 0x00, 0x00, 0x7B, 247}, 256, false},
		{"WriteMultipleRegisters_TooLong", []byte{0x01, 0x10, 0x00, 0x00, 0x00, 0x7B, 248}, 0, true},
		{"ReadWriteMultiple_ShortHeader", []byte{0x01, 0x17, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01}, 0, false},
		{"ReadWriteMultiple_Valid", []byte{0x01, 0x17, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01, 0x02}, 11 + 2 + 2, false},
		{"UnknownFunction", []byte{0x01, 0x99}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateRequestLength(tt.header)
			if (err != nil) != tt.wantErr {
				t.Errorf("CalculateRequestLength() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("CalculateRequestLength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateRequestLength_WriteMultipleRegistersByteCounts(t *testing.T) {
	for k := 0; k <= 247; k++ {
		header := []byte{0x01, 0x10, 0x00, 0x00, 0x00, 0x01, byte(k)}
		got, err := CalculateRequestLength(header)
		if err != nil {
			t.Fatalf("byte count %d: unexpected error %v", k, err)
		}
		if want := 1 + 5 + 1 + k + 2; got != want {
			t.Fatalf("byte count %d: got %d, want %d", k, got, want)
		}
	}
}

func TestCalculateRequestLength_ErrorKinds(t *testing.T) {
	_, err := CalculateRequestLength([]byte{0x01, 0x2B})
	if !modbus.IsIllegalFunction(err) {
		t.Errorf("unknown function: got %v, want illegal function exception", err)
	}

	_, err = CalculateRequestLength([]byte{0x01, 0x0F, 0x00, 0x00, 0x07, 0xB0, 0xFF})
	if !errors.Is(err, ErrInvalidLength) {
		t.Errorf("oversized byte count: got %v, want ErrInvalidLength", err)
	}
}

func TestRequestSizer_CachesLength(t *testing.T) {
	var s RequestSizer
	frame := []byte{0x01, 0x10, 0x00, 0x00, 0x00, 0x01, 0x02, 0x00, 0x05}

	if got, err := s.Resolve(frame[:6]); err != nil || got != 0 {
		t.Fatalf("Resolve(short) = %d, %v; want 0, nil", got, err)
	}
	got, err := s.Resolve(frame[:7])
	if err != nil || got != 11 {
		t.Fatalf("Resolve() = %d, %v; want 11, nil", got, err)
	}

	// Corrupting the byte count after resolution must not change the length.
	frame[6] = 0xF0
	if got, _ := s.Resolve(frame); got != 11 {
		t.Errorf("Resolve() after caching = %d, want 11", got)
	}
	if s.Length() != 11 {
		t.Errorf("Length() = %d, want 11", s.Length())
	}

	s.Reset()
	if s.Length() != 0 {
		t.Errorf("Length() after Reset = %d, want 0", s.Length())
	}
}

func TestDecode(t *testing.T) {
	raw := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02, 0xC4, 0x0B}
	adu, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if adu.SlaveID != 0x01 || adu.Pdu.FunctionCode != 0x03 {
		t.Errorf("Decode() header = %d/%d", adu.SlaveID, adu.Pdu.FunctionCode)
	}
	if !bytes.Equal(adu.Pdu.Data, []byte{0x00, 0x00, 0x00, 0x02}) {
		t.Errorf("Decode() data = %X", adu.Pdu.Data)
	}

	raw[7] ^= 0xFF
	if _, err := Decode(raw); !errors.Is(err, ErrCRC) {
		t.Errorf("Decode() with flipped crc: got %v, want ErrCRC", err)
	}

	if _, err := Decode([]byte{0x01, 0x03, 0x00}); err == nil {
		t.Error("Decode() of short frame: expected error")
	}
}

func TestEncode(t *testing.T) {
	adu := &ApplicationDataUnit{
		SlaveID: 0x01,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x04, 0x00, 0x00, 0x00, 0x00}},
	}
	raw, err := adu.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := []byte{0x01, 0x03, 0x04, 0x00, 0x00, 0x00, 0x00, 0xFA, 0x33}
	if !bytes.Equal(raw, want) {
		t.Errorf("Encode() = %X, want %X", raw, want)
	}

	big := &ApplicationDataUnit{Pdu: modbus.ProtocolDataUnit{Data: make([]byte, 253)}}
	if _, err := big.Encode(); err == nil {
		t.Error("Encode() of oversized PDU: expected error")
	}
}

func TestAppendEncodeReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, MaxSize)
	adu := &ApplicationDataUnit{
		SlaveID: 0x01,
		Pdu:     modbus.ProtocolDataUnit{FunctionCode: 0x83, Data: []byte{0x02}},
	}
	out, err := adu.AppendEncode(buf[:0])
	if err != nil {
		t.Fatalf("AppendEncode() error = %v", err)
	}
	want := []byte{0x01, 0x83, 0x02, 0xC0, 0xF1}
	if !bytes.Equal(out, want) {
		t.Errorf("AppendEncode() = %X, want %X", out, want)
	}
	if &out[0] != &buf[:1][0] {
		t.Error("AppendEncode() reallocated the outbound buffer")
	}
}
