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
	"fmt"
	"time"

	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "notify")

type Command int

const (
	CmdNone                Command = 0
	CmdAuthorizationResult Command = 1
	CmdAttestationResult   Command = 2
)

func (c Command) String() string {
	switch c {
	case CmdNone:
		return "none"
	case CmdAuthorizationResult:
		return "authorization_result"
	case CmdAttestationResult:
		return "attestation_result"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// AuthorizationResult is the outcome of an access control decision for a DotBot
type AuthorizationResult struct {
	Timestamp  int64 `json:"timestamp"`
	Id         int   `json:"id"`
	Authorized bool  `json:"authorized"`
}

// Notification is sent to observers whenever the authority reached a decision
type Notification struct {
	Id            string                 `json:"id"`
	Cmd           Command                `json:"cmd"`
	Timestamp     int64                  `json:"timestamp"`
	Authorization *AuthorizationResult   `json:"authorization,omitempty"`
	Attestation   *ar.AttestationVerdict `json:"attestation,omitempty"`
}

// Sink receives notifications. Notify must not block the caller.
type Sink interface {
	Notify(n Notification)
}

// Multi forwards notifications to all contained sinks
type Multi []Sink

func (m Multi) Notify(n Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(n)
		}
	}
}

// Discard drops all notifications
type Discard struct{}

func (Discard) Notify(Notification) {}

func newNotification(cmd Command, now time.Time) Notification {
	return Notification{
		Id:        uuid.NewString(),
		Cmd:       cmd,
		Timestamp: now.UnixMilli(),
	}
}

// NewAuthorization creates a notification for an access control decision
func NewAuthorization(id int, authorized bool) Notification {
	now := time.Now()
	n := newNotification(CmdAuthorizationResult, now)
	n.Authorization = &AuthorizationResult{
		Timestamp:  now.UnixMilli(),
		Id:         id,
		Authorized: authorized,
	}
	return n
}

// NewAttestation creates a notification for an attestation verdict
func NewAttestation(verdict *ar.AttestationVerdict) Notification {
	n := newNotification(CmdAttestationResult, time.Now())
	n.Attestation = verdict
	return n
}
