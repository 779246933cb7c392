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

package api

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/fxamacker/cbor/v2"
	log "github.com/sirupsen/logrus"
)

const headerLen = 8

// Receive receives data from a socket with the following format
//
//	Len uint32 -> Length of the payload to be sent
//	Type uint32 -> Type of the payload
//	payload []byte -> encoded payload
func Receive(conn net.Conn) ([]byte, uint32, error) {

	// Read header
	buf := make([]byte, headerLen)

	log.Tracef("Reading header length %v", len(buf))

	_, err := io.ReadFull(conn, buf)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	// Decode header to get length and type
	payloadLen := binary.BigEndian.Uint32(buf[0:4])
	msgType := binary.BigEndian.Uint32(buf[4:8])

	if payloadLen > MaxMsgLen {
		return nil, 0, fmt.Errorf("cannot receive: payload size %v exceeds maximum size %v",
			payloadLen, MaxMsgLen)
	}

	log.Tracef("Received header type %v. Receiving payload length %v", TypeToString(msgType), payloadLen)

	// Read payload
	payload := make([]byte, payloadLen)
	_, err = io.ReadFull(conn, payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read payload: %w", err)
	}

	log.Tracef("Received payload length %v", payloadLen)

	return payload, msgType, nil
}

// Send sends data to a socket with the following format
//
//	Len uint32 -> Length of the payload to be sent
//	Type uint32 -> Type of the payload
//	payload []byte -> encoded payload
func Send(conn net.Conn, payload []byte, t uint32) error {

	if len(payload) > MaxMsgLen {
		return fmt.Errorf("cannot send: payload size %v exceeds maximum size %v",
			len(payload), MaxMsgLen)
	}

	buf := make([]byte, headerLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.BigEndian.PutUint32(buf[4:8], t)

	log.Tracef("Sending header length %v", len(buf))

	n, err := conn.Write(buf)
	if err != nil {
		return fmt.Errorf("failed to send header: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("could only send %v of %v bytes", n, len(buf))
	}

	log.Tracef("Sending payload type %v length %v", TypeToString(t), uint32(len(payload)))

	if len(payload) == 0 {
		return nil
	}

	n, err = conn.Write(payload)
	if err != nil {
		return fmt.Errorf("failed to send response: %w", err)
	}
	if n != len(payload) {
		return fmt.Errorf("could only send %v of %v bytes", n, len(payload))
	}

	return nil
}

// SendError sends a CBOR encoded SocketError message
func SendError(conn net.Conn, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	log.Warn(msg)
	e := &SocketError{
		Msg: msg,
	}
	payload, err := cbor.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal error response: %v", err)
	}
	return Send(conn, payload, TypeError)
}
