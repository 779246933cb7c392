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

package httpapi

import (
	"bufio"
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/Fraunhofer-AISEC/authority/api"
	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/Fraunhofer-AISEC/authority/authority"
	"github.com/Fraunhofer-AISEC/authority/notify"
	"github.com/Fraunhofer-AISEC/authority/verifier"
)

const (
	testHash = "0a0b0c0d"
	testName = "dotbot-fw"
)

func newTestServer(t *testing.T) (*Server, *notify.Hub, ed25519.PrivateKey) {
	t.Helper()

	gin.SetMode(gin.TestMode)
	logrus.SetLevel(logrus.TraceLevel)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to setup test: %v", err)
	}
	policy, err := verifier.NewTrustPolicy(nil, []verifier.AllowlistEntry{
		{Hash: testHash, SoftwareName: testName},
	})
	if err != nil {
		t.Fatalf("Failed to setup test: %v", err)
	}

	hub := notify.NewHub(0)
	a, err := authority.New(&authority.Config{
		Id:          "456",
		Verifier:    verifier.New(policy, nil),
		AttesterKey: pub,
		Sink:        hub,
	})
	if err != nil {
		t.Fatalf("Failed to setup test: %v", err)
	}

	return NewServer("127.0.0.1:0", a, hub), hub, priv
}

func post(t *testing.T, s *Server, endpoint string, v any) *httptest.ResponseRecorder {
	t.Helper()
	var body []byte
	switch b := v.(type) {
	case []byte:
		body = b
	default:
		var err error
		body, err = ar.CborSerializer{}.Marshal(v)
		if err != nil {
			t.Fatalf("Failed to setup test: %v", err)
		}
	}
	req := httptest.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	req.Header.Set("Content-Type", api.ContentTypeCbor)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestAttestation(t *testing.T) {
	s, _, priv := newTestServer(t)

	w := post(t, s, api.EndpointAttestationProposal, &api.ProposalRequest{
		Session: "dotbot-1",
		Formats: []int{ar.ContentFormatSwid},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("proposal status = %v, want %v: %v", w.Code, http.StatusOK, w.Body.String())
	}
	proposal := new(api.ProposalResponse)
	if err := (ar.CborSerializer{}).Unmarshal(w.Body.Bytes(), proposal); err != nil {
		t.Fatalf("Failed to unmarshal proposal response: %v", err)
	}

	payload, err := ar.EncodeEvidence(&ar.EvidencePayload{
		Nonce: proposal.Nonce,
		Ueid:  []byte{0x01},
		Measurements: []ar.Measurement{
			{
				ContentFormat: ar.ContentFormatSwid,
				SoftwareName:  testName,
				Files:         []ar.FileEvidence{{FsName: "fw.bin", HashAlg: 1, HashValue: testHash}},
			},
		},
	})
	if err != nil {
		t.Fatalf("Failed to setup test: %v", err)
	}
	token, err := ar.CborSerializer{}.Sign1(payload, priv)
	if err != nil {
		t.Fatalf("Failed to setup test: %v", err)
	}

	w = post(t, s, api.EndpointEvidence, &api.EvidenceRequest{Session: "dotbot-1", Token: token})
	if w.Code != http.StatusOK {
		t.Fatalf("evidence status = %v, want %v: %v", w.Code, http.StatusOK, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != api.ContentTypeCbor {
		t.Errorf("evidence content type = %v, want %v", ct, api.ContentTypeCbor)
	}
	resp := new(api.EvidenceResponse)
	if err := (ar.CborSerializer{}).Unmarshal(w.Body.Bytes(), resp); err != nil {
		t.Fatalf("Failed to unmarshal evidence response: %v", err)
	}
	if resp.Status != api.StatusVerified {
		t.Errorf("evidence status = %v, want %v (%v)", resp.Status, api.StatusVerified, resp.Verdict)
	}

	// Nonce is single-use
	w = post(t, s, api.EndpointEvidence, &api.EvidenceRequest{Session: "dotbot-1", Token: token})
	if err := (ar.CborSerializer{}).Unmarshal(w.Body.Bytes(), resp); err != nil {
		t.Fatalf("Failed to unmarshal evidence response: %v", err)
	}
	if resp.Status != ar.NoChallenge.Status() {
		t.Errorf("replayed evidence status = %v, want %v", resp.Status, ar.NoChallenge.Status())
	}
}

func TestErrorStatus(t *testing.T) {
	s, _, _ := newTestServer(t)

	tests := []struct {
		name     string
		endpoint string
		body     any
		want     int
	}{
		{"No Acceptable Format", api.EndpointAttestationProposal,
			&api.ProposalRequest{Session: "s", Formats: []int{1}}, http.StatusForbidden},
		{"Malformed Proposal", api.EndpointAttestationProposal, []byte{0xff}, http.StatusBadRequest},
		{"Voucher Not Configured", api.EndpointVoucherRequest, []byte{0x01}, http.StatusNotImplemented},
		{"Credentials Not Configured", api.EndpointCredentialRequest, []byte{0x01}, http.StatusNotImplemented},
		{"Too Large", api.EndpointEvidence, make([]byte, api.MaxMsgLen+1), http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, s, tt.endpoint, tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %v, want %v: %v", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestAcl(t *testing.T) {
	s, _, _ := newTestServer(t)

	do := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	if w := do(http.MethodPut, api.EndpointAcl+"/7"); w.Code != http.StatusOK {
		t.Fatalf("PUT status = %v, want %v", w.Code, http.StatusOK)
	}
	if w := do(http.MethodDelete, api.EndpointAcl+"/1"); w.Code != http.StatusOK {
		t.Fatalf("DELETE status = %v, want %v", w.Code, http.StatusOK)
	}
	if w := do(http.MethodPut, api.EndpointAcl+"/256"); w.Code != http.StatusBadRequest {
		t.Errorf("PUT invalid id status = %v, want %v", w.Code, http.StatusBadRequest)
	}

	w := do(http.MethodGet, api.EndpointAcl)
	resp := new(api.AclResponse)
	if err := json.Unmarshal(w.Body.Bytes(), resp); err != nil {
		t.Fatalf("Failed to unmarshal ACL: %v", err)
	}
	if diff := cmp.Diff([]int{43, 7}, resp.Acl); diff != "" {
		t.Errorf("ACL mismatch (-want +got):\n%s", diff)
	}

	w = do(http.MethodGet, api.EndpointId)
	if !strings.Contains(w.Body.String(), `"456"`) {
		t.Errorf("id = %v, want 456", w.Body.String())
	}
}

func TestEvents(t *testing.T) {
	s, hub, _ := newTestServer(t)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + api.EndpointEvents)
	if err != nil {
		t.Fatalf("Failed to connect to events: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(5 * time.Second)
	for hub.Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Observer did not subscribe")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Notify(notify.NewAuthorization(43, true))

	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			event = v
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data = v
			break
		}
	}

	if event != "authorization_result" {
		t.Errorf("event = %q, want authorization_result", event)
	}
	n := new(notify.Notification)
	if err := json.Unmarshal([]byte(data), n); err != nil {
		t.Fatalf("Failed to unmarshal notification %q: %v", data, err)
	}
	if n.Authorization == nil || n.Authorization.Id != 43 || !n.Authorization.Authorized {
		t.Errorf("notification = %+v, want authorized dotbot 43", n.Authorization)
	}
}
