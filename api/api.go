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

// Contains the API definitions for the HTTP, CoAP and socket API
package api

import (
	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
)

const (
	EndpointAttestationProposal = "/.well-known/lake-ra/attestation-proposal"
	EndpointEvidence            = "/.well-known/lake-ra/evidence"
	EndpointVoucherRequest      = "/.well-known/lake-authz/voucher-request"
	EndpointCredentialRequest   = "/.well-known/lake-authz/cred-request"
	EndpointId                  = "/api/v1/id"
	EndpointAcl                 = "/api/v1/acl"
	EndpointEvents              = "/api/v1/events"
)

const (
	TypeError      uint32 = 0
	TypeProposal   uint32 = 1
	TypeEvidence   uint32 = 2
	TypeVoucher    uint32 = 3
	TypeCredential uint32 = 4
)

// ContentTypeCbor is the media type of all lake-ra and lake-authz messages
const ContentTypeCbor = "application/cbor"

// StatusVerified is the evidence response status of a successful attestation.
// Failed attestations carry the negative status of the first rejection reason.
const StatusVerified = 0

// ProposalRequest carries the evidence formats an attester is able to produce
type ProposalRequest struct {
	Session string `json:"session" cbor:"0,keyasint"`
	Formats []int  `json:"formats" cbor:"1,keyasint"`
}

// ProposalResponse is the challenge: the selected format and a fresh nonce
type ProposalResponse struct {
	_      struct{} `cbor:",toarray"`
	Format int      `json:"format"`
	Nonce  []byte   `json:"nonce"`
}

type EvidenceRequest struct {
	Session string `json:"session" cbor:"0,keyasint"`
	Token   []byte `json:"token" cbor:"1,keyasint"`
}

type EvidenceResponse struct {
	Status  int                    `json:"status" cbor:"0,keyasint"`
	Verdict *ar.AttestationVerdict `json:"verdict,omitempty" cbor:"1,keyasint,omitempty"`
}

// Identity is the identity of the authority
type Identity struct {
	Id string `json:"id"`
}

type AclResponse struct {
	Acl []int `json:"acl"`
}

type SocketError struct {
	Msg string `json:"msg" cbor:"0,keyasint"`
}

const (
	// Set maximum message length to 10 MB
	MaxMsgLen = 1024 * 1024 * 10
)

func TypeToString(t uint32) string {
	switch t {
	case TypeError:
		return "Error"
	case TypeProposal:
		return "Proposal"
	case TypeEvidence:
		return "Evidence"
	case TypeVoucher:
		return "Voucher"
	case TypeCredential:
		return "Credential"
	default:
		return "Unknown"
	}
}
