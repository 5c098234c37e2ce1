// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/ffutop/modbus-rtu-slave/internal/config"
	"github.com/ffutop/modbus-rtu-slave/internal/metrics"
	"github.com/ffutop/modbus-rtu-slave/modbus"
	rtupacket "github.com/ffutop/modbus-rtu-slave/modbus/rtu"
	"github.com/ffutop/modbus-rtu-slave/transport"
)

// BroadcastID is the slave id a master uses to address every slave. Broadcast
// requests are executed but never answered.
const BroadcastID = 0

type scanState int

const (
	stateIdle scanState = iota
	stateAccumulating
	// stateDraining swallows the rest of a frame whose function code is not
	// supported, until the line goes idle.
	stateDraining
)

// Server implements a Modbus RTU Server (Upstream).
// It acts as a Slave on the serial bus, waiting for requests from an external Master.
type Server struct {
	Config config.SerialConfig
	// SlaveIDs lists the addresses this server answers. Frames for other
	// addresses are dropped.
	SlaveIDs []byte
	Metrics  *metrics.Metrics

	serial *serialPort
}

// NewServer creates a new RTU Server.
func NewServer(cfg config.SerialConfig, slaveIDs []byte, m *metrics.Metrics) *Server {
	return &Server{
		Config:   cfg,
		SlaveIDs: slaveIDs,
		Metrics:  m,
		serial:   newSerialPort(cfg),
	}
}

// Start opens the serial port and serves requests until ctx is cancelled.
func (s *Server) Start(ctx context.Context, handler transport.RequestHandler) error {
	port, err := s.serial.open()
	if err != nil {
		return err
	}
	defer s.serial.Close()
	slog.Info("RTU slave listening", "line", s.String(), "slaveIDs", s.SlaveIDs)

	// Closing the port unblocks a pending read.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.serial.Close()
		case <-done:
		}
	}()

	return s.Serve(ctx, port, handler)
}

func (s *Server) Close() error {
	return s.serial.Close()
}

// Serve runs the frame assembly loop on ch. ch.Read must return an error
// when no byte arrives within the line timeout; that idle gap terminates a
// partial frame. Serve returns nil when ctx is cancelled or ch reports
// io.EOF.
func (s *Server) Serve(ctx context.Context, ch io.ReadWriter, handler transport.RequestHandler) error {
	var (
		buf   = make([]byte, rtupacket.MaxSize)
		out   = make([]byte, 0, rtupacket.MaxSize)
		pos   int
		sizer rtupacket.RequestSizer
		state = stateIdle
		delay = responseDelay(s.Config)
	)
	reset := func() {
		pos = 0
		sizer.Reset()
		state = stateIdle
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		// Never ask for more than the current frame, so the next frame
		// stays in the channel.
		var limit int
		switch {
		case state == stateDraining:
			if pos == len(buf) {
				slog.Debug("discarding oversized unsupported frame", "size", pos)
				s.Metrics.Frame(metrics.ResultOverflow)
				reset()
				continue
			}
			limit = len(buf)
		case sizer.Length() > 0:
			limit = sizer.Length()
		default:
			limit = max(2, pos+1)
		}

		n, err := ch.Read(buf[pos:limit])
		pos += n
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			if state == stateDraining && isTimeout(err) {
				s.drained(ctx, ch, buf[:pos], &out, delay)
				reset()
				continue
			}
			switch {
			case pos > 0:
				slog.Warn("discarding partial frame", "size", pos, "err", err)
				s.Metrics.Frame(metrics.ResultTimeout)
			case isTimeout(err):
				slog.Debug("line idle", "err", err)
			default:
				slog.Warn("serial read failed", "err", err)
			}
			reset()
			continue
		}

		if state == stateDraining || pos == 0 {
			continue
		}
		state = stateAccumulating
		if pos < 2 {
			continue
		}

		length, err := sizer.Resolve(buf[:pos])
		if err != nil {
			if modbus.IsIllegalFunction(err) {
				slog.Debug("unsupported function, draining frame", "func", buf[1])
				state = stateDraining
				continue
			}
			slog.Debug("dropping frame", "header", hex.EncodeToString(buf[:pos]), "err", err)
			s.Metrics.Frame(metrics.ResultTooLong)
			reset()
			continue
		}
		if length == 0 || pos < length {
			continue
		}

		s.dispatch(ctx, ch, handler, buf[:length], &out, delay)
		reset()
	}
}

// dispatch validates one complete frame, runs the handler and writes the
// response.
func (s *Server) dispatch(ctx context.Context, ch io.Writer, handler transport.RequestHandler, frame []byte, out *[]byte, delay time.Duration) {
	slog.Debug("recv from modbus master", "request", hex.EncodeToString(frame))

	adu, err := rtupacket.Decode(frame)
	if err != nil {
		slog.Debug("dropping frame", "err", err)
		s.Metrics.Frame(metrics.ResultCRCError)
		return
	}
	if !s.accepts(adu.SlaveID) {
		s.Metrics.Frame(metrics.ResultIgnored)
		return
	}
	s.Metrics.Frame(metrics.ResultOK)

	resp, err := handler(ctx, adu.SlaveID, adu.Pdu)
	if adu.SlaveID == BroadcastID {
		return
	}
	if err != nil {
		resp = s.exceptionPDU(adu.Pdu.FunctionCode, err)
	} else {
		s.Metrics.Response()
	}
	s.respond(ctx, ch, adu.SlaveID, resp, out, delay)
}

// drained handles the bytes of a frame with an unsupported function code
// once the line has gone idle. Only an intact frame addressed to us is
// answered.
func (s *Server) drained(ctx context.Context, ch io.Writer, frame []byte, out *[]byte, delay time.Duration) {
	adu, err := rtupacket.Decode(frame)
	if err != nil {
		slog.Debug("dropping unsupported frame", "frame", hex.EncodeToString(frame), "err", err)
		s.Metrics.Frame(metrics.ResultCRCError)
		return
	}
	if !s.accepts(adu.SlaveID) || adu.SlaveID == BroadcastID {
		s.Metrics.Frame(metrics.ResultIgnored)
		return
	}
	s.Metrics.Frame(metrics.ResultIllegalFunction)
	slog.Debug("recv from modbus master", "request", hex.EncodeToString(frame))

	exc := modbus.NewException(adu.Pdu.FunctionCode, modbus.ExceptionCodeIllegalFunction,
		"unsupported function code: 0x%02X", adu.Pdu.FunctionCode)
	s.respond(ctx, ch, adu.SlaveID, s.exceptionPDU(adu.Pdu.FunctionCode, exc), out, delay)
}

func (s *Server) exceptionPDU(funcCode byte, err error) modbus.ProtocolDataUnit {
	var exc *modbus.Exception
	if !errors.As(err, &exc) {
		slog.Error("Handler failed", "func", funcCode, "err", err)
		exc = modbus.NewException(funcCode, modbus.ExceptionCodeSlaveDeviceFailure, "%v", err)
	}
	s.Metrics.Exception(exc.Code)
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | modbus.ExceptionFlag,
		Data:         []byte{byte(exc.Code)},
	}
}

func (s *Server) respond(ctx context.Context, ch io.Writer, slaveID byte, pdu modbus.ProtocolDataUnit, out *[]byte, delay time.Duration) {
	adu := rtupacket.ApplicationDataUnit{SlaveID: slaveID, Pdu: pdu}
	raw, err := adu.AppendEncode((*out)[:0])
	if err != nil {
		slog.Error("Failed to encode RTU response", "err", err)
		return
	}
	*out = raw[:0]

	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	slog.Debug("send to modbus master", "response", hex.EncodeToString(raw))
	if _, err := ch.Write(raw); err != nil {
		slog.Error("Failed to write RTU response", "err", err)
	}
}

func (s *Server) accepts(slaveID byte) bool {
	return slaveID == BroadcastID || slices.Contains(s.SlaveIDs, slaveID)
}

// String describes the line settings, e.g. "/dev/ttyUSB0 19200 8N1".
func (s *Server) String() string {
	return fmt.Sprintf("%s %d %d%s%d", s.Config.Device, s.Config.BaudRate, s.Config.DataBits, s.Config.Parity, s.Config.StopBits)
}
