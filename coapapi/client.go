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

package coapapi

import (
	"bytes"
	"context"
	"fmt"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/udp"
)

// StatusError is returned by Post if the server did not answer with 2.05 Content
type StatusError struct {
	Code codes.Code
	Msg  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server responded with %v: %v", e.Code, e.Msg)
}

// Post sends a CBOR encoded request to the path of the CoAP server and returns
// the response body
func Post(ctx context.Context, addr, path string, payload []byte) ([]byte, error) {

	conn, err := udp.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %v: %w", addr, err)
	}
	defer conn.Close()

	log.Debugf("Sending CoAP POST %v to %v (%v bytes)", path, addr, len(payload))

	resp, err := conn.Post(ctx, path, message.AppCBOR, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	var body []byte
	if resp.Body() != nil {
		body, err = resp.ReadBody()
		if err != nil {
			return nil, fmt.Errorf("failed to read body: %w", err)
		}
	}

	if resp.Code() != codes.Content {
		return nil, &StatusError{Code: resp.Code(), Msg: string(body)}
	}

	return body, nil
}
