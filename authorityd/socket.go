// Copyright (c) 2021 - 2025 Fraunhofer AISEC
// Fraunhofer-Gesellschaft zur Foerderung der angewandten Forschung e.V.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build !nodefaults || socket

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	// local modules
	"github.com/Fraunhofer-AISEC/authority/api"
	"github.com/Fraunhofer-AISEC/authority/authority"
	"github.com/Fraunhofer-AISEC/authority/notify"
)

// SocketServer serves the authority over unix domain or TCP sockets
type SocketServer struct{}

func init() {
	servers["socket"] = SocketServer{}
}

func (s SocketServer) Serve(ctx context.Context, c *config, a *authority.Authority, hub *notify.Hub) error {

	log.Infof("Waiting for requests on %v (%v)", c.SocketAddr, c.Network)

	if c.Network == "unix" {
		// Remove stale sockets of previous runs
		os.Remove(c.SocketAddr)
	}

	socket, err := net.Listen(c.Network, c.SocketAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	go func() {
		<-ctx.Done()
		socket.Close()
	}()

	for {
		conn, err := socket.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.Infof("Shutting down socket server")
				return nil
			}
			return fmt.Errorf("failed to accept connection: %w", err)
		}

		go handleIncoming(conn, a)
	}
}

func handleIncoming(conn net.Conn, a *authority.Authority) {
	defer conn.Close()

	payload, reqType, err := api.Receive(conn)
	if err != nil {
		api.SendError(conn, "Failed to receive: %v", err)
		return
	}

	log.Debugf("Received %v request (%v bytes)", api.TypeToString(reqType), len(payload))

	var resp []byte
	switch reqType {
	case api.TypeProposal:
		resp, err = a.HandleProposal(payload)
	case api.TypeEvidence:
		resp, err = a.HandleEvidence(payload)
	case api.TypeVoucher:
		resp, err = a.HandleVoucherRequest(payload)
	case api.TypeCredential:
		resp, err = a.HandleCredentialRequest(payload)
	default:
		api.SendError(conn, "Invalid Type: %v", reqType)
		return
	}
	if err != nil {
		api.SendError(conn, "Failed to handle %v request: %v", api.TypeToString(reqType), err)
		return
	}

	err = api.Send(conn, resp, reqType)
	if err != nil {
		log.Warnf("Failed to send %v response: %v", api.TypeToString(reqType), err)
	}
}
