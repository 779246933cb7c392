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
	"encoding/hex"

	"github.com/fxamacker/cbor/v2"
	"github.com/sirupsen/logrus"
	"github.com/veraison/go-cose"
)

var log = logrus.WithField("service", "ar")

// CBOR labels of the Entity Attestation Token (EAT) claims
const (
	EatNonceKey        = 10
	EatUeidKey         = 256
	EatMeasurementsKey = 273
)

// CBOR labels of the Concise Software Identification Tags (CoSWID)
const (
	CoswidTagIdKey        = 0
	CoswidSoftwareNameKey = 1
	CoswidEntityKey       = 2
	CoswidEvidenceKey     = 3
	CoswidHashKey         = 7
	CoswidTagVersionKey   = 12
	CoswidFileKey         = 17
	CoswidSizeKey         = 20
	CoswidFsNameKey       = 24
	CoswidEntityNameKey   = 31
	CoswidRoleKey         = 33
)

// ContentFormatSwid is the CoAP content format application/swid+cbor
const ContentFormatSwid = 258

// SignedEnvelope is a decoded COSE_Sign1 structure. Protected holds the content of the
// protected header byte string exactly as received.
type SignedEnvelope struct {
	Algorithm   cose.Algorithm
	Protected   []byte
	Unprotected cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

// EvidencePayload is the verified body of an attestation token. Nonce is nil if the
// attester did not report one and Measurements is nil if the token carries no
// measurements claim.
type EvidencePayload struct {
	Nonce        []byte        `json:"nonce,omitempty"`
	Ueid         []byte        `json:"ueid,omitempty"`
	Measurements []Measurement `json:"measurements,omitempty"`
}

// Measurement describes one reported software component
type Measurement struct {
	ContentFormat int            `json:"contentFormat"`
	TagId         string         `json:"tagId,omitempty"`
	TagVersion    int            `json:"tagVersion"`
	SoftwareName  string         `json:"softwareName"`
	Entity        *Entity        `json:"entity,omitempty"`
	Files         []FileEvidence `json:"files"`
}

// Entity is the organization that produced a software component
type Entity struct {
	Name  string   `json:"name,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// FileEvidence is a measured file. HashValue is the lowercase hex encoded digest.
// HashAlg and HashValue are either both set or both empty.
type FileEvidence struct {
	FsName    string `json:"fsName"`
	Size      uint64 `json:"size,omitempty"`
	HashAlg   int    `json:"hashAlg,omitempty"`
	HashValue string `json:"hashValue,omitempty"`
}

// NonceHex returns the lowercase hex representation of the reported nonce or an
// empty string if no nonce was reported
func (p *EvidencePayload) NonceHex() string {
	if p.Nonce == nil {
		return ""
	}
	return hex.EncodeToString(p.Nonce)
}

// HasHash returns whether the file entry carries a digest
func (f *FileEvidence) HasHash() bool {
	return f.HashValue != ""
}

// CoSWID entity roles (RFC 9393 section 4.2)
var roleNames = map[int]string{
	1: "tagCreator",
	2: "softwareCreator",
	3: "aggregator",
	4: "distributor",
	5: "licensor",
	6: "maintainer",
}

func roleName(r int) string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return ""
}

func roleValue(name string) (int, bool) {
	for k, v := range roleNames {
		if v == name {
			return k, true
		}
	}
	return 0, false
}
