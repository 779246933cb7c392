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

package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/Fraunhofer-AISEC/authority/api"
	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/Fraunhofer-AISEC/authority/coapapi"
)

const (
	transportFlag = "transport"
	addrFlag      = "addr"
	networkFlag   = "network"
	sessionFlag   = "session"
	timeoutFlag   = "timeout"
)

var attestCommand = &cli.Command{
	Name:  "attest",
	Usage: "perform a remote attestation against the authority",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:  transportFlag,
			Usage: "Transport to use [http coap socket]",
			Value: "http",
		},
		&cli.StringFlag{
			Name:  addrFlag,
			Usage: "Address of the authority",
			Value: "localhost:18000",
		},
		&cli.StringFlag{
			Name:  networkFlag,
			Usage: "Network for the socket transport [unix tcp]",
			Value: "unix",
		},
		&cli.StringFlag{
			Name:  sessionFlag,
			Usage: "Session identifier",
			Value: "authorityctl",
		},
		&cli.DurationFlag{
			Name:  timeoutFlag,
			Usage: "Timeout of each request",
			Value: 5 * time.Second,
		},
	}, evidenceFlags...),
	Action: func(ctx context.Context, cmd *cli.Command) error {
		c, err := getEvidenceConfig(cmd)
		if err != nil {
			return err
		}
		t, err := getTransport(cmd.String(transportFlag), cmd.String(addrFlag),
			cmd.String(networkFlag), cmd.Duration(timeoutFlag))
		if err != nil {
			return err
		}
		resp, err := attest(ctx, t, cmd.String(sessionFlag), c)
		if err != nil {
			return err
		}
		return printVerdict(resp.Verdict)
	},
}

type transport interface {
	send(ctx context.Context, endpoint string, typ uint32, body []byte) ([]byte, error)
}

func getTransport(name, addr, network string, timeout time.Duration) (transport, error) {
	switch strings.ToLower(name) {
	case "http":
		if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
			addr = "http://" + addr
		}
		return &httpTransport{addr: addr, client: &http.Client{Timeout: timeout}}, nil
	case "coap":
		return &coapTransport{addr: addr, timeout: timeout}, nil
	case "socket":
		return &socketTransport{network: network, addr: addr, timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("transport %v not implemented", name)
	}
}

// attest runs the lake-ra exchange: propose the evidence format, answer the
// challenge with a signed token and return the verdict of the authority
func attest(ctx context.Context, t transport, session string, c *evidenceConfig) (*api.EvidenceResponse, error) {

	s := ar.CborSerializer{}

	body, err := s.Marshal(&api.ProposalRequest{
		Session: session,
		Formats: []int{c.Format},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proposal: %w", err)
	}

	log.Debugf("Sending attestation proposal for session %v", session)

	data, err := t.send(ctx, api.EndpointAttestationProposal, api.TypeProposal, body)
	if err != nil {
		return nil, fmt.Errorf("attestation proposal failed: %w", err)
	}
	proposal := new(api.ProposalResponse)
	if err := s.Unmarshal(data, proposal); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attestation request: %w", err)
	}

	log.Debugf("Received challenge: format %v, nonce %x", proposal.Format, proposal.Nonce)

	c.Format = proposal.Format
	token, err := createToken(c, proposal.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	body, err = s.Marshal(&api.EvidenceRequest{
		Session: session,
		Token:   token,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence: %w", err)
	}

	data, err = t.send(ctx, api.EndpointEvidence, api.TypeEvidence, body)
	if err != nil {
		return nil, fmt.Errorf("sending evidence failed: %w", err)
	}
	resp := new(api.EvidenceResponse)
	if err := s.Unmarshal(data, resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evidence response: %w", err)
	}
	if resp.Verdict == nil {
		return nil, fmt.Errorf("authority returned status %v without verdict", resp.Status)
	}

	log.Debugf("Attestation finished with status %v", resp.Status)

	return resp, nil
}

type httpTransport struct {
	addr   string
	client *http.Client
}

func (t *httpTransport) send(ctx context.Context, endpoint string, _ uint32, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.addr+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", api.ContentTypeCbor)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, api.MaxMsgLen))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server responded with %v: %v", resp.Status, string(data))
	}
	return data, nil
}

type coapTransport struct {
	addr    string
	timeout time.Duration
}

func (t *coapTransport) send(ctx context.Context, endpoint string, _ uint32, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return coapapi.Post(ctx, t.addr, endpoint, body)
}

type socketTransport struct {
	network string
	addr    string
	timeout time.Duration
}

func (t *socketTransport) send(ctx context.Context, _ string, typ uint32, body []byte) ([]byte, error) {
	d := net.Dialer{Timeout: t.timeout}
	conn, err := d.DialContext(ctx, t.network, t.addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %v: %w", t.addr, err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(t.timeout))

	if err := api.Send(conn, body, typ); err != nil {
		return nil, err
	}
	data, respType, err := api.Receive(conn)
	if err != nil {
		return nil, err
	}
	if respType == api.TypeError {
		resp := new(api.SocketError)
		if err := (ar.CborSerializer{}).Unmarshal(data, resp); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error response: %w", err)
		}
		return nil, fmt.Errorf("server responded with error: %v", resp.Msg)
	}
	if respType != typ {
		return nil, fmt.Errorf("unexpected response type %v", api.TypeToString(respType))
	}
	return data, nil
}
