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

package authority

import (
	"crypto"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Fraunhofer-AISEC/authority/api"
	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/Fraunhofer-AISEC/authority/enrollment"
	"github.com/Fraunhofer-AISEC/authority/notify"
	"github.com/Fraunhofer-AISEC/authority/verifier"
)

var log = logrus.WithField("service", "authority")

// DefaultAcl is the list of DotBots authorized to join if nothing else is configured
var DefaultAcl = []int{1, 43}

// Config contains the collaborators of the authority. Verifier and AttesterKey
// are mandatory, all other fields are optional.
type Config struct {
	Id          string
	Verifier    *verifier.Verifier
	AttesterKey crypto.PublicKey
	Sink        notify.Sink
	Acl         *enrollment.Acl
	Vouchers    enrollment.VoucherServer
	Credentials *enrollment.CredentialStore
}

// Authority handles the lake-ra and lake-authz requests of DotBots independent of
// the transport. All request and response bodies are CBOR encoded.
type Authority struct {
	id          string
	verifier    *verifier.Verifier
	key         crypto.PublicKey
	sink        notify.Sink
	acl         *enrollment.Acl
	vouchers    enrollment.VoucherServer
	credentials *enrollment.CredentialStore
	s           ar.CborSerializer
}

func New(c *Config) (*Authority, error) {
	if c == nil {
		return nil, errors.New("internal error: authority config is nil")
	}
	if c.Verifier == nil {
		return nil, errors.New("no verifier configured")
	}
	if c.AttesterKey == nil {
		return nil, errors.New("no attester key configured")
	}

	a := &Authority{
		id:          c.Id,
		verifier:    c.Verifier,
		key:         c.AttesterKey,
		sink:        c.Sink,
		acl:         c.Acl,
		vouchers:    c.Vouchers,
		credentials: c.Credentials,
	}
	if a.sink == nil {
		a.sink = notify.Discard{}
	}
	if a.acl == nil {
		a.acl = enrollment.NewAcl(DefaultAcl)
	}

	return a, nil
}

func (a *Authority) Identity() api.Identity {
	return api.Identity{Id: a.id}
}

func (a *Authority) Acl() *enrollment.Acl {
	return a.acl
}

// HandleProposal answers an attestation proposal with the selected evidence format
// and a fresh nonce. If none of the proposed formats is accepted,
// challenge.ErrNoAcceptableFormat is returned.
func (a *Authority) HandleProposal(body []byte) ([]byte, error) {

	log.Tracef("Handling attestation proposal %v", hex.EncodeToString(body))

	req := new(api.ProposalRequest)
	if err := a.s.Unmarshal(body, req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attestation proposal: %w", err)
	}
	if req.Session == "" {
		return nil, errors.New("attestation proposal does not contain a session")
	}

	format, nonce, err := a.verifier.Propose(req.Session, req.Formats)
	if err != nil {
		log.Warnf("Rejecting attestation proposal of session %v: %v", req.Session, err)
		return nil, err
	}

	resp, err := a.s.Marshal(&api.ProposalResponse{
		Format: format,
		Nonce:  nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal attestation request: %w", err)
	}

	log.Debugf("Issued challenge for session %v: format %v, nonce %v",
		req.Session, format, hex.EncodeToString(nonce))

	return resp, nil
}

// HandleEvidence evaluates an attestation token and answers with the status and the
// verdict. Every evaluated token results in a response and an attestation
// notification, regardless of whether the token is valid.
func (a *Authority) HandleEvidence(body []byte) ([]byte, error) {

	log.Tracef("Handling evidence %v", hex.EncodeToString(body))

	var verdict *ar.AttestationVerdict

	req := new(api.EvidenceRequest)
	if err := a.s.Unmarshal(body, req); err != nil {
		verdict = &ar.AttestationVerdict{
			Type:    ar.VerdictType,
			Created: time.Now().UTC().Format(time.RFC3339),
		}
		verdict.Reject(ar.MalformedOrUnverified, "failed to unmarshal evidence request: %v", err)
		verdict.PrintErr()
	} else {
		verdict, err = a.verifier.Evaluate(req.Session, req.Token, a.key)
		if err != nil {
			log.Warnf("Evaluation of session %v failed: %v", req.Session, err)
		}
	}

	a.sink.Notify(notify.NewAttestation(verdict))

	resp, err := a.s.Marshal(&api.EvidenceResponse{
		Status:  verdict.Status(),
		Verdict: verdict,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence response: %w", err)
	}

	return resp, nil
}

// AuthorizeDotbot checks the DotBot against the ACL and notifies the observers
// about the result
func (a *Authority) AuthorizeDotbot(id int) bool {
	authorized := a.acl.Contains(id)
	log.Debugf("Authorizing dotbot %v: %v", id, authorized)
	a.sink.Notify(notify.NewAuthorization(id, authorized))
	return authorized
}

// HandleVoucherRequest learns the identity of the DotBot from the voucher request
// and prepares the voucher response if the DotBot is authorized
func (a *Authority) HandleVoucherRequest(body []byte) ([]byte, error) {

	log.Tracef("Handling voucher request %v", hex.EncodeToString(body))

	if a.vouchers == nil {
		return nil, enrollment.ErrNotConfigured
	}

	idU, err := a.vouchers.DecodeVoucherRequest(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode voucher request: %w", err)
	}
	id, err := enrollment.DeviceId(idU)
	if err != nil {
		return nil, fmt.Errorf("failed to get dotbot id: %w", err)
	}

	log.Debugf("Learned identity of dotbot %v (%v)", id, hex.EncodeToString(idU))

	if !a.AuthorizeDotbot(id) {
		return nil, fmt.Errorf("%w: %v", enrollment.ErrUnauthorized, id)
	}

	voucher, err := a.vouchers.PrepareVoucher(body)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare voucher: %w", err)
	}

	log.Debugf("Dotbot %v authorized, prepared voucher response %v", id, hex.EncodeToString(voucher))

	return voucher, nil
}

// HandleCredentialRequest returns the raw public key credential of the DotBot.
// The body is the credential identifier, whose last byte is the key id.
func (a *Authority) HandleCredentialRequest(body []byte) ([]byte, error) {
	kid, err := enrollment.DeviceId(body)
	if err != nil {
		return nil, fmt.Errorf("invalid credential request: %w", err)
	}

	log.Debugf("Handling credential request for kid %v", kid)

	cred, err := a.credentials.Credential(kid)
	if err != nil {
		return nil, err
	}

	log.Tracef("Returning credential of kid %v: %v", kid, hex.EncodeToString(cred))

	return cred, nil
}
