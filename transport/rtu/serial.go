// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ffutop/modbus-rtu-slave/internal/config"
	"github.com/grid-x/serial"
)

// serialPort has configuration and I/O controller.
type serialPort struct {
	// Serial port configuration.
	serial.Config

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port io.ReadWriteCloser
}

func newSerialPort(cfg config.SerialConfig) *serialPort {
	sp := &serialPort{
		Config: serial.Config{
			Address:  cfg.Device,
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			StopBits: cfg.StopBits,
			Parity:   cfg.Parity,
			// Read timeout; an idle line surfaces as serial.ErrTimeout.
			Timeout: cfg.Timeout,
		},
	}
	if cfg.RS485 {
		sp.RS485.Enabled = true
		sp.RS485.DelayRtsBeforeSend = cfg.DelayRtsBeforeSend
		sp.RS485.DelayRtsAfterSend = cfg.DelayRtsAfterSend
		sp.RS485.RtsHighDuringSend = cfg.RtsHighDuringSend
		sp.RS485.RtsHighAfterSend = cfg.RtsHighAfterSend
		sp.RS485.RxDuringTx = cfg.RxDuringTx
	}
	return sp
}

// open opens the serial port if it is not open yet.
func (sp *serialPort) open() (io.ReadWriter, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.port == nil {
		port, err := serial.Open(&sp.Config)
		if err != nil {
			return nil, fmt.Errorf("could not open %s: %w", sp.Config.Address, err)
		}
		sp.port = port
	}
	return sp.port, nil
}

func (sp *serialPort) Close() (err error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if sp.port != nil {
		err = sp.port.Close()
		sp.port = nil
	}
	return
}

// isTimeout reports whether err is a read that ended because the line was
// idle for the configured timeout.
func isTimeout(err error) bool {
	if errors.Is(err, serial.ErrTimeout) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// characterBits is the length of one character on the line: start bit, data
// bits, optional parity bit and stop bits.
func characterBits(dataBits int, parity string, stopBits int) int {
	bits := 1 + dataBits + stopBits
	if parity != "" && parity != "N" {
		bits++
	}
	return bits
}

// frameDelay is the silent interval that separates two frames: four
// character times at the configured line settings.
func frameDelay(cfg config.SerialConfig) time.Duration {
	if cfg.BaudRate <= 0 {
		return 0
	}
	bits := characterBits(cfg.DataBits, cfg.Parity, cfg.StopBits)
	return time.Duration(4*bits) * time.Second / time.Duration(cfg.BaudRate)
}

// responseDelay is the pause before a response is written. A configured
// response delay can lengthen the inter-frame silence but never shorten it.
func responseDelay(cfg config.SerialConfig) time.Duration {
	return max(frameDelay(cfg), cfg.ResponseDelay)
}
