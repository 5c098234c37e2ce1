// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"

	"github.com/ffutop/modbus-rtu-slave/modbus"
)

// RequestHandler handles one Modbus request/response cycle.
//
// The transport strips its own framing (address, checksum) and passes the
// slave id and PDU. A *modbus.Exception error is sent back as an exception
// response; any other error is reported as a slave device failure.
type RequestHandler func(ctx context.Context, slaveID byte, pdu modbus.ProtocolDataUnit) (modbus.ProtocolDataUnit, error)

// Upstream represents a source of requests (a Modbus master connected to us).
// It acts as a server.
type Upstream interface {
	// Start opens the link and serves requests until ctx is cancelled or
	// the link is closed.
	Start(ctx context.Context, handler RequestHandler) error
	Close() error
}
