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

package verifier

import (
	"crypto"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"

	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/Fraunhofer-AISEC/authority/challenge"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "verifier")

// PolicyValidator validates custom policies against an attestation verdict
type PolicyValidator interface {
	Validate(verdict ar.AttestationVerdict) bool
}

// Verifier issues challenges and evaluates the attestation tokens answering them
type Verifier struct {
	policy     *TrustPolicy
	challenges *challenge.Manager
	validator  PolicyValidator
	now        func() time.Time
}

type Option func(*Verifier)

// WithCustomPolicy additionally validates every verdict with the given validator
func WithCustomPolicy(p PolicyValidator) Option {
	return func(v *Verifier) {
		v.validator = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// New creates a verifier. If no challenge manager is given, a manager with default
// settings negotiating the formats of the trust policy is created.
func New(policy *TrustPolicy, challenges *challenge.Manager, opts ...Option) *Verifier {
	if challenges == nil {
		challenges = challenge.NewManager(policy)
	}
	v := &Verifier{
		policy:     policy,
		challenges: challenges,
		now:        time.Now,
	}
	for _, o := range opts {
		o(v)
	}
	return v
}

func (v *Verifier) Policy() *TrustPolicy {
	return v.policy
}

func (v *Verifier) Challenges() *challenge.Manager {
	return v.challenges
}

// Propose issues a challenge for the session: the first acceptable evidence format
// of the candidates and a fresh nonce
func (v *Verifier) Propose(sessionId string, formats []int) (int, []byte, error) {
	return v.challenges.Propose(sessionId, formats)
}

// Evaluate verifies an attestation token answering the challenge of the session.
// A verdict is always returned. The error is non-nil if the token could not be
// decoded or verified, or if no valid challenge exists for the session. Policy
// violations are reported through the reasons of the verdict only.
func (v *Verifier) Evaluate(sessionId string, raw []byte, key crypto.PublicKey) (*ar.AttestationVerdict, error) {

	log.Debugf("Evaluating attestation token of session %v (%v bytes)", sessionId, len(raw))

	verdict := &ar.AttestationVerdict{
		Type:    ar.VerdictType,
		Session: sessionId,
		Created: v.now().UTC().Format(time.RFC3339),
	}

	payload, err := DecodeAndVerify(raw, key)
	if err != nil {
		verdict.Reject(ar.MalformedOrUnverified, "failed to verify attestation token: %v", err)
		verdict.PrintErr()
		return verdict, err
	}

	verdict.Ueid = hex.EncodeToString(payload.Ueid)

	if len(payload.Measurements) == 0 {
		verdict.Reject(ar.NoMeasurements, "evidence does not contain measurements")
		verdict.PrintErr()
		return verdict, nil
	}

	m := payload.Measurements[0]
	verdict.SoftwareName = m.SoftwareName
	verdict.TagVersion = m.TagVersion
	verdict.ContentFormat = m.ContentFormat
	if len(m.Files) > 0 {
		verdict.FsName = m.Files[0].FsName
	}

	session, err := v.challenges.Consume(sessionId)
	if err != nil {
		verdict.Reject(ar.NoChallenge, "%v", err)
		verdict.PrintErr()
		return verdict, err
	}

	if ok := v.verifyFormats(verdict, payload.Measurements, session.Format); !ok {
		verdict.PrintErr()
		return verdict, nil
	}

	v.verifyNonce(verdict, session, payload)

	v.verifyAllowlist(verdict, &m)

	verdict.Success = verdict.FreshnessCheck.Success && verdict.AllowlistCheck.Success

	if v.validator != nil {
		v.verifyCustomPolicy(verdict)
	}

	if verdict.Success {
		log.Infof("Attestation of %v (session %v, %v version %v) successful",
			verdict.Ueid, sessionId, verdict.SoftwareName, verdict.TagVersion)
	} else {
		verdict.PrintErr()
	}

	return verdict, nil
}

func (v *Verifier) verifyFormats(verdict *ar.AttestationVerdict, measurements []ar.Measurement, negotiated int) bool {

	log.Debug("Verifying evidence formats")

	for i, m := range measurements {
		if !v.policy.AcceptsFormat(m.ContentFormat) {
			verdict.Reject(ar.UnsupportedFormat, "measurement %v: content format %v not accepted",
				i, m.ContentFormat)
			return false
		}
	}
	if measurements[0].ContentFormat != negotiated {
		verdict.Reject(ar.UnsupportedFormat, "content format %v does not match negotiated format %v",
			measurements[0].ContentFormat, negotiated)
		return false
	}
	return true
}

func (v *Verifier) verifyNonce(verdict *ar.AttestationVerdict, session *challenge.Session, payload *ar.EvidencePayload) {

	log.Debug("Verifying nonce")

	expected := session.NonceHex()
	got := payload.NonceHex()

	if payload.Nonce == nil {
		verdict.FreshnessCheck.Fail(ar.NonceMismatch, "evidence does not contain a nonce")
		verdict.FreshnessCheck.Expected = expected
		verdict.Reject(ar.NonceMismatch, "evidence does not contain a nonce")
		return
	}

	if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
		log.Debugf("Nonces mismatch: Supplied Nonce = %v, Evidence Nonce = %v", expected, got)
		verdict.FreshnessCheck.Fail(ar.NonceMismatch)
		verdict.FreshnessCheck.Expected = expected
		verdict.FreshnessCheck.Got = got
		verdict.Reject(ar.NonceMismatch, "nonce mismatch: expected %v, got %v", expected, got)
		return
	}

	verdict.FreshnessCheck.Success = true
}

func (v *Verifier) verifyAllowlist(verdict *ar.AttestationVerdict, m *ar.Measurement) {

	log.Debug("Verifying software against allowlist")

	if len(m.Files) == 0 {
		verdict.AllowlistCheck.Fail(ar.NotInAllowlist, "measurement does not contain files")
		verdict.Reject(ar.NotInAllowlist, "software %v: measurement does not contain files", m.SoftwareName)
		return
	}

	f := m.Files[0]
	verdict.AllowlistCheck.Got = fmt.Sprintf("%v:%v", m.SoftwareName, f.HashValue)

	if !f.HasHash() {
		verdict.AllowlistCheck.Fail(ar.NotInAllowlist, "file does not contain a hash")
		verdict.Reject(ar.NotInAllowlist, "software %v: file %v does not contain a hash",
			m.SoftwareName, f.FsName)
		return
	}

	if !v.policy.Allows(f.HashValue, m.SoftwareName) {
		verdict.AllowlistCheck.Fail(ar.NotInAllowlist)
		verdict.Reject(ar.NotInAllowlist, "software %v with hash %v is not allowed",
			m.SoftwareName, f.HashValue)
		return
	}

	log.Tracef("Software %v with hash %v is allowed", m.SoftwareName, f.HashValue)

	verdict.AllowlistCheck.Success = true
}

func (v *Verifier) verifyCustomPolicy(verdict *ar.AttestationVerdict) {

	log.Debug("Validating custom policy")

	result := &ar.Result{}
	if v.validator.Validate(*verdict) {
		result.Success = true
	} else {
		result.Fail(ar.CustomPolicy)
		verdict.Reject(ar.CustomPolicy, "custom policy validation failed")
	}
	verdict.CustomPolicyCheck = result
	verdict.Success = verdict.Success && result.Success
}
