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

package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type recorder struct {
	notifications []Notification
}

func (r *recorder) Notify(n Notification) {
	r.notifications = append(r.notifications, n)
}

func TestNewNotification(t *testing.T) {
	auth := NewAuthorization(43, true)
	if auth.Cmd != CmdAuthorizationResult {
		t.Errorf("Cmd = %v, want %v", auth.Cmd, CmdAuthorizationResult)
	}
	if _, err := uuid.Parse(auth.Id); err != nil {
		t.Errorf("Id %q is not a UUID: %v", auth.Id, err)
	}
	if auth.Authorization == nil || auth.Authorization.Id != 43 || !auth.Authorization.Authorized {
		t.Errorf("Authorization = %v, want id 43 authorized", auth.Authorization)
	}

	verdict := &ar.AttestationVerdict{Type: ar.VerdictType, Session: "s"}
	att := NewAttestation(verdict)
	if att.Cmd != CmdAttestationResult || att.Attestation != verdict {
		t.Errorf("NewAttestation() = %v, want attestation result", att)
	}
	if att.Id == auth.Id {
		t.Errorf("notification ids are not unique")
	}
}

func TestMulti(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := Multi{a, nil, b}

	m.Notify(NewAuthorization(1, false))

	if len(a.notifications) != 1 || len(b.notifications) != 1 {
		t.Errorf("got %v and %v notifications, want 1 each", len(a.notifications), len(b.notifications))
	}
}

func TestHub(t *testing.T) {
	h := NewHub(2)

	ch1, cancel1 := h.Subscribe()
	ch2, cancel2 := h.Subscribe()
	if h.Len() != 2 {
		t.Fatalf("Len() = %v, want 2", h.Len())
	}

	n := NewAuthorization(1, true)
	h.Notify(n)

	for i, ch := range []<-chan Notification{ch1, ch2} {
		got := <-ch
		if diff := cmp.Diff(n, got); diff != "" {
			t.Errorf("observer %v mismatch (-want +got):\n%s", i, diff)
		}
	}

	// Slow observers lose notifications instead of blocking
	for i := 0; i < 5; i++ {
		h.Notify(NewAuthorization(i, true))
	}
	if len(ch1) != 2 {
		t.Errorf("len(ch1) = %v, want 2", len(ch1))
	}

	cancel1()
	cancel1()
	if h.Len() != 1 {
		t.Errorf("Len() = %v, want 1", h.Len())
	}
	for range ch1 {
	}

	cancel2()
	h.Notify(NewAuthorization(2, true))
	if h.Len() != 0 {
		t.Errorf("Len() = %v, want 0", h.Len())
	}
}

func TestPublish(t *testing.T) {

	logrus.SetLevel(logrus.TraceLevel)

	var received Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(data, &received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	file := filepath.Join(t.TempDir(), "result.json")

	verdict := &ar.AttestationVerdict{
		Type:         ar.VerdictType,
		Success:      true,
		Session:      "dotbot-1",
		SoftwareName: "fw-v1",
	}
	n := NewAttestation(verdict)

	p := NewPublisher(srv.URL, file)
	p.Notify(n)
	p.Wait()

	if received.Id != n.Id || received.Attestation == nil || !received.Attestation.Success {
		t.Errorf("server received %v, want %v", received, n)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("Failed to read published file: %v", err)
	}
	var stored ar.AttestationVerdict
	if err := json.Unmarshal(data, &stored); err != nil {
		t.Fatalf("Failed to unmarshal published file: %v", err)
	}
	if diff := cmp.Diff(*verdict, stored); diff != "" {
		t.Errorf("stored verdict mismatch (-want +got):\n%s", diff)
	}
}

func TestPublishServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPublisher(srv.URL, "")
	err := p.Publish(NewAttestation(&ar.AttestationVerdict{Type: ar.VerdictType}))
	if err == nil {
		t.Errorf("Publish() succeeded, want error")
	}

	err = p.Publish(Notification{Cmd: CmdAttestationResult})
	if err == nil {
		t.Errorf("Publish() without verdict succeeded, want error")
	}

	if err := p.Publish(NewAuthorization(1, true)); err != nil {
		t.Errorf("Publish() authorization error = %v", err)
	}
}
