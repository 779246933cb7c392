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

package attestationreport

import (
	"fmt"
	"strings"
)

const VerdictType = "Attestation Verdict"

// ErrorCode is the reason an attestation was rejected
type ErrorCode int

const (
	NotSpecified ErrorCode = iota
	MalformedOrUnverified
	NoMeasurements
	NoChallenge
	UnsupportedFormat
	NonceMismatch
	NotInAllowlist
	CustomPolicy
)

var errorCodeNames = map[ErrorCode]string{
	NotSpecified:          "not_specified",
	MalformedOrUnverified: "malformed_or_unverified",
	NoMeasurements:        "no_measurements",
	NoChallenge:           "no_challenge",
	UnsupportedFormat:     "unsupported_format",
	NonceMismatch:         "nonce_mismatch",
	NotInAllowlist:        "not_in_allowlist",
	CustomPolicy:          "custom_policy",
}

func (e ErrorCode) String() string {
	if s, ok := errorCodeNames[e]; ok {
		return s
	}
	return fmt.Sprintf("unknown(%d)", int(e))
}

func (e ErrorCode) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *ErrorCode) UnmarshalText(text []byte) error {
	for k, v := range errorCodeNames {
		if strings.EqualFold(v, string(text)) {
			*e = k
			return nil
		}
	}
	return fmt.Errorf("unknown error code %q", string(text))
}

// Status returns the negative status code transports embed into failed
// evidence responses. Zero is reserved for successful attestations.
func (e ErrorCode) Status() int {
	if e == NotSpecified {
		return StatusUnspecified
	}
	return -int(e)
}

const StatusUnspecified = -255

// Result is a generic type for storing a boolean result value
// and details on the validation (used in case of errors).
type Result struct {
	Success   bool      `json:"success"`
	ErrorCode ErrorCode `json:"errorCode,omitempty"`
	Expected  string    `json:"expected,omitempty"`
	Got       string    `json:"got,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// Fail marks the result as failed with the given error code and optional details
func (r *Result) Fail(code ErrorCode, args ...any) {
	r.Success = false
	r.ErrorCode = code
	if len(args) > 0 {
		r.Details = fmt.Sprint(args...)
	}
}

// AttestationVerdict is the outcome of evaluating one attestation token. It carries
// everything required to render the result without re-parsing the evidence.
type AttestationVerdict struct {
	Type              string      `json:"type"`
	Success           bool        `json:"attestationResult"`
	Session           string      `json:"session"`
	Created           string      `json:"created,omitempty"`
	Ueid              string      `json:"ueid,omitempty"`
	SoftwareName      string      `json:"softwareName,omitempty"`
	FsName            string      `json:"fsName,omitempty"`
	TagVersion        int         `json:"tagVersion"`
	ContentFormat     int         `json:"contentFormat,omitempty"`
	Reasons           []ErrorCode `json:"reasons,omitempty"`
	FreshnessCheck    Result      `json:"freshnessCheck"`
	AllowlistCheck    Result      `json:"allowlistCheck"`
	CustomPolicyCheck *Result     `json:"customPolicyCheck,omitempty"`
	ProcessingError   []string    `json:"processingError,omitempty"`
}

// Reject records a rejection reason. The verdict cannot succeed afterwards.
func (v *AttestationVerdict) Reject(code ErrorCode, format string, args ...any) {
	v.Success = false
	v.Reasons = append(v.Reasons, code)
	v.ProcessingError = append(v.ProcessingError, fmt.Sprintf(format, args...))
}

// HasReason returns whether the verdict was rejected for the given reason
func (v *AttestationVerdict) HasReason(code ErrorCode) bool {
	for _, r := range v.Reasons {
		if r == code {
			return true
		}
	}
	return false
}

// Status returns 0 for successful verdicts and the negative status code of the
// first rejection reason otherwise
func (v *AttestationVerdict) Status() int {
	if v.Success {
		return 0
	}
	if len(v.Reasons) == 0 {
		return NotSpecified.Status()
	}
	return v.Reasons[0].Status()
}

func (v *AttestationVerdict) PrintErr() {
	for _, r := range v.Reasons {
		log.Warnf("Attestation of %v (session %v) failed: %v", v.Ueid, v.Session, r)
	}
	for _, e := range v.ProcessingError {
		log.Warnf("\t%v", e)
	}
}
