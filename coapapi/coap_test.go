// Copyright (c) 2025 Fraunhofer AISEC
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
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	coapnet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/sirupsen/logrus"

	"github.com/Fraunhofer-AISEC/authority/api"
	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/Fraunhofer-AISEC/authority/authority"
	"github.com/Fraunhofer-AISEC/authority/verifier"
)

func startServer(t *testing.T) (string, ed25519.PrivateKey) {
	t.Helper()

	logrus.SetLevel(logrus.TraceLevel)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to setup test: %v", err)
	}
	policy, err := verifier.NewTrustPolicy(nil, []verifier.AllowlistEntry{
		{Hash: "beef", SoftwareName: "dotbot-fw"},
	})
	if err != nil {
		t.Fatalf("Failed to setup test: %v", err)
	}
	a, err := authority.New(&authority.Config{
		Verifier:    verifier.New(policy, nil),
		AttesterKey: pub,
	})
	if err != nil {
		t.Fatalf("Failed to setup test: %v", err)
	}

	l, err := coapnet.NewListenUDP("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewServer(a).ServeListener(ctx, l)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		l.Close()
	})

	return l.LocalAddr().String(), priv
}

func TestAttestation(t *testing.T) {
	addr, priv := startServer(t)
	s := ar.CborSerializer{}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, _ := s.Marshal(&api.ProposalRequest{Session: "dotbot-1", Formats: []int{ar.ContentFormatSwid}})
	data, err := Post(ctx, addr, api.EndpointAttestationProposal, body)
	if err != nil {
		t.Fatalf("Post() proposal error = %v", err)
	}
	proposal := new(api.ProposalResponse)
	if err := s.Unmarshal(data, proposal); err != nil {
		t.Fatalf("Failed to unmarshal proposal response: %v", err)
	}

	payload, err := ar.EncodeEvidence(&ar.EvidencePayload{
		Nonce: proposal.Nonce,
		Measurements: []ar.Measurement{
			{
				ContentFormat: ar.ContentFormatSwid,
				SoftwareName:  "dotbot-fw",
				Files:         []ar.FileEvidence{{FsName: "fw.bin", HashAlg: 1, HashValue: "BEEF"}},
			},
		},
	})
	if err != nil {
		t.Fatalf("Failed to setup test: %v", err)
	}
	token, err := s.Sign1(payload, priv)
	if err != nil {
		t.Fatalf("Failed to setup test: %v", err)
	}

	body, _ = s.Marshal(&api.EvidenceRequest{Session: "dotbot-1", Token: token})
	data, err = Post(ctx, addr, api.EndpointEvidence, body)
	if err != nil {
		t.Fatalf("Post() evidence error = %v", err)
	}
	resp := new(api.EvidenceResponse)
	if err := s.Unmarshal(data, resp); err != nil {
		t.Fatalf("Failed to unmarshal evidence response: %v", err)
	}
	if resp.Status != api.StatusVerified {
		t.Errorf("evidence status = %v, want %v", resp.Status, api.StatusVerified)
	}
}

func TestErrorCodes(t *testing.T) {
	addr, _ := startServer(t)
	s := ar.CborSerializer{}

	proposal, _ := s.Marshal(&api.ProposalRequest{Session: "dotbot-1", Formats: []int{60}})

	tests := []struct {
		name string
		path string
		body []byte
		want codes.Code
	}{
		{"No Acceptable Format", api.EndpointAttestationProposal, proposal, codes.Forbidden},
		{"Malformed Proposal", api.EndpointAttestationProposal, []byte{0xff}, codes.BadRequest},
		{"Voucher Not Configured", api.EndpointVoucherRequest, []byte{0x01}, codes.NotImplemented},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_, err := Post(ctx, addr, tt.path, tt.body)
			var statusErr *StatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("Post() error = %v, want StatusError", err)
			}
			if statusErr.Code != tt.want {
				t.Errorf("Post() code = %v, want %v", statusErr.Code, tt.want)
			}
		})
	}
}
