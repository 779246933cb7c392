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

package verifier

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// AllowlistEntry is a known-good software image identified by its digest and name
type AllowlistEntry struct {
	Hash         string `json:"hash"`
	SoftwareName string `json:"softwareName"`
}

// TrustPolicy holds the known-good software images and the evidence formats an
// attester may use. It is read-only after construction.
type TrustPolicy struct {
	formats   []int
	allowlist map[AllowlistEntry]struct{}
}

// TrustPolicyFile is the JSON representation of a trust policy
type TrustPolicyFile struct {
	AcceptedFormats []int            `json:"acceptedFormats,omitempty"`
	Allowlist       []AllowlistEntry `json:"allowlist"`
}

type trustPolicyHcl struct {
	AcceptedFormats []int         `hcl:"accepted_formats,optional"`
	Software        []softwareHcl `hcl:"software,block"`
}

type softwareHcl struct {
	Name   string   `hcl:"name,label"`
	Hashes []string `hcl:"hashes"`
}

// NewTrustPolicy creates a trust policy. Hashes are compared case-insensitively. If no
// formats are given, only application/swid+cbor is accepted.
func NewTrustPolicy(formats []int, allowlist []AllowlistEntry) (*TrustPolicy, error) {

	p := &TrustPolicy{
		allowlist: make(map[AllowlistEntry]struct{}, len(allowlist)),
	}

	if len(formats) == 0 {
		log.Debugf("No accepted formats specified, using %v", ar.ContentFormatSwid)
		formats = []int{ar.ContentFormatSwid}
	}
	for _, f := range formats {
		if !slices.Contains(p.formats, f) {
			p.formats = append(p.formats, f)
		}
	}

	for i, e := range allowlist {
		if strings.TrimSpace(e.Hash) == "" {
			return nil, fmt.Errorf("allowlist entry %v: empty hash", i)
		}
		if e.SoftwareName == "" {
			return nil, fmt.Errorf("allowlist entry %v: empty software name", i)
		}
		if _, err := hex.DecodeString(ar.NormalizeHash(e.Hash)); err != nil {
			return nil, fmt.Errorf("allowlist entry %v: invalid hash %q: %w", i, e.Hash, err)
		}
		p.allowlist[AllowlistEntry{
			Hash:         ar.NormalizeHash(e.Hash),
			SoftwareName: e.SoftwareName,
		}] = struct{}{}
	}

	if len(p.allowlist) == 0 {
		log.Warn("Trust policy allowlist is empty, all attestations will be rejected")
	}

	return p, nil
}

// LoadTrustPolicy reads a trust policy from a file. Files with the extension .hcl are
// parsed as HCL, all other files as JSON.
func LoadTrustPolicy(path string) (*TrustPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trust policy: %w", err)
	}
	return ParseTrustPolicy(filepath.Base(path), data)
}

// ParseTrustPolicy parses a trust policy. The file name selects the syntax.
func ParseTrustPolicy(filename string, data []byte) (*TrustPolicy, error) {

	if strings.EqualFold(filepath.Ext(filename), ".hcl") {
		log.Debugf("Parsing HCL trust policy %v", filename)

		var c trustPolicyHcl
		err := hclsimple.Decode(filename, data, nil, &c)
		if err != nil {
			return nil, fmt.Errorf("failed to parse trust policy %v: %w", filename, err)
		}
		var allowlist []AllowlistEntry
		for _, s := range c.Software {
			if len(s.Hashes) == 0 {
				return nil, fmt.Errorf("software %v does not specify any hashes", s.Name)
			}
			for _, h := range s.Hashes {
				allowlist = append(allowlist, AllowlistEntry{Hash: h, SoftwareName: s.Name})
			}
		}
		return NewTrustPolicy(c.AcceptedFormats, allowlist)
	}

	log.Debugf("Parsing JSON trust policy %v", filename)

	var c TrustPolicyFile
	err := json.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("failed to parse trust policy %v: %w", filename, err)
	}
	if c.Allowlist == nil {
		return nil, errors.New("trust policy does not contain an allowlist")
	}

	return NewTrustPolicy(c.AcceptedFormats, c.Allowlist)
}

// AcceptsFormat returns whether attesters may report evidence in the given content format
func (p *TrustPolicy) AcceptsFormat(format int) bool {
	return slices.Contains(p.formats, format)
}

// AcceptedFormats returns the accepted content formats in configured order
func (p *TrustPolicy) AcceptedFormats() []int {
	return slices.Clone(p.formats)
}

// Allows returns whether the combination of digest and software name is known-good.
// Both must belong to the same allowlist entry.
func (p *TrustPolicy) Allows(hash, softwareName string) bool {
	_, ok := p.allowlist[AllowlistEntry{
		Hash:         ar.NormalizeHash(hash),
		SoftwareName: softwareName,
	}]
	return ok
}

// Allowlist returns the allowlist entries sorted by software name and digest
func (p *TrustPolicy) Allowlist() []AllowlistEntry {
	entries := make([]AllowlistEntry, 0, len(p.allowlist))
	for e := range p.allowlist {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b AllowlistEntry) int {
		if c := strings.Compare(a.SoftwareName, b.SoftwareName); c != 0 {
			return c
		}
		return strings.Compare(a.Hash, b.Hash)
	})
	return entries
}
