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
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

var ErrMalformedEvidence = errors.New("malformed evidence")

const (
	cborMajorByteString = 2
	cborMajorTextString = 3
	cborMajorArray      = 4
	cborMajorMap        = 5
)

type eatClaims struct {
	Nonce        []byte            `cbor:"10,keyasint,omitempty"`
	Ueid         []byte            `cbor:"256,keyasint,omitempty"`
	Measurements []cbor.RawMessage `cbor:"273,keyasint,omitempty"`
}

type coswidTag struct {
	TagId        cbor.RawMessage `cbor:"0,keyasint,omitempty"`
	SoftwareName string          `cbor:"1,keyasint,omitempty"`
	Entity       cbor.RawMessage `cbor:"2,keyasint,omitempty"`
	Evidence     *coswidEvidence `cbor:"3,keyasint,omitempty"`
	TagVersion   int             `cbor:"12,keyasint,omitempty"`
}

type coswidEntity struct {
	EntityName string          `cbor:"31,keyasint,omitempty"`
	Role       cbor.RawMessage `cbor:"33,keyasint,omitempty"`
}

type coswidEvidence struct {
	File cbor.RawMessage `cbor:"17,keyasint,omitempty"`
}

type coswidFile struct {
	Hash   cbor.RawMessage `cbor:"7,keyasint,omitempty"`
	Size   uint64          `cbor:"20,keyasint,omitempty"`
	FsName string          `cbor:"24,keyasint,omitempty"`
}

// ParseEvidence decodes the CBOR encoded EAT claims set of a verified attestation
// token into an EvidencePayload. A missing nonce or measurements claim is not an
// error; it is reflected as a nil field for the caller to judge. Any structural
// mismatch is reported as an error wrapping ErrMalformedEvidence.
func ParseEvidence(data []byte) (*EvidencePayload, error) {

	log.Trace("Parsing EAT claims")

	var claims eatClaims
	err := decMode.Unmarshal(data, &claims)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode claims: %v", ErrMalformedEvidence, err)
	}

	payload := &EvidencePayload{
		Nonce: claims.Nonce,
		Ueid:  claims.Ueid,
	}

	if claims.Measurements == nil {
		log.Debug("Evidence does not contain measurements")
		return payload, nil
	}

	payload.Measurements = make([]Measurement, 0, len(claims.Measurements))
	for i, raw := range claims.Measurements {
		m, err := parseMeasurement(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: measurement %v: %v", ErrMalformedEvidence, i, err)
		}
		log.Tracef("Parsed measurement %v: %v (tag version %v, %v files)",
			i, m.SoftwareName, m.TagVersion, len(m.Files))
		payload.Measurements = append(payload.Measurements, *m)
	}

	return payload, nil
}

func parseMeasurement(raw cbor.RawMessage) (*Measurement, error) {

	var entry []cbor.RawMessage
	err := decMode.Unmarshal(raw, &entry)
	if err != nil {
		return nil, fmt.Errorf("failed to decode measurement entry: %v", err)
	}
	if len(entry) != 2 {
		return nil, fmt.Errorf("measurement entry has %v elements, expected 2", len(entry))
	}

	m := &Measurement{}
	err = decMode.Unmarshal(entry[0], &m.ContentFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to decode content format: %v", err)
	}

	// The CoSWID is either embedded directly or wrapped into a byte string
	coswidRaw := entry[1]
	switch majorType(coswidRaw) {
	case cborMajorByteString:
		var wrapped []byte
		if err := decMode.Unmarshal(coswidRaw, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode wrapped CoSWID: %v", err)
		}
		coswidRaw = wrapped
	case cborMajorMap:
	default:
		return nil, errors.New("CoSWID is neither a map nor a byte string")
	}

	var tag coswidTag
	err = decMode.Unmarshal(coswidRaw, &tag)
	if err != nil {
		return nil, fmt.Errorf("failed to decode CoSWID: %v", err)
	}

	m.SoftwareName = tag.SoftwareName
	m.TagVersion = tag.TagVersion
	m.TagId, err = parseTagId(tag.TagId)
	if err != nil {
		return nil, err
	}

	m.Entity, err = parseEntity(tag.Entity)
	if err != nil {
		return nil, err
	}

	m.Files = []FileEvidence{}
	if tag.Evidence == nil {
		log.Tracef("CoSWID %v does not contain evidence", m.SoftwareName)
		return m, nil
	}
	files, err := oneOrMore(tag.Evidence.File)
	if err != nil {
		return nil, fmt.Errorf("failed to decode file entries: %v", err)
	}
	for i, rawFile := range files {
		f, err := parseFile(rawFile)
		if err != nil {
			return nil, fmt.Errorf("file %v: %v", i, err)
		}
		m.Files = append(m.Files, *f)
	}

	return m, nil
}

func parseTagId(raw cbor.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	switch majorType(raw) {
	case cborMajorTextString:
		var s string
		if err := decMode.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("failed to decode tag id: %v", err)
		}
		return s, nil
	case cborMajorByteString:
		var b []byte
		if err := decMode.Unmarshal(raw, &b); err != nil {
			return "", fmt.Errorf("failed to decode tag id: %v", err)
		}
		if id, err := uuid.FromBytes(b); err == nil {
			return id.String(), nil
		}
		return hex.EncodeToString(b), nil
	default:
		return "", errors.New("tag id is neither a text nor a byte string")
	}
}

func parseEntity(raw cbor.RawMessage) (*Entity, error) {
	entries, err := oneOrMore(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode entity: %v", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	if len(entries) > 1 {
		log.Tracef("CoSWID contains %v entities, using the first", len(entries))
	}

	var e coswidEntity
	err = decMode.Unmarshal(entries[0], &e)
	if err != nil {
		return nil, fmt.Errorf("failed to decode entity: %v", err)
	}

	entity := &Entity{
		Name: e.EntityName,
	}
	roles, err := oneOrMore(e.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to decode entity role: %v", err)
	}
	for _, r := range roles {
		switch majorType(r) {
		case cborMajorTextString:
			var s string
			if err := decMode.Unmarshal(r, &s); err != nil {
				return nil, fmt.Errorf("failed to decode entity role: %v", err)
			}
			entity.Roles = append(entity.Roles, s)
		default:
			var i int
			if err := decMode.Unmarshal(r, &i); err != nil {
				return nil, fmt.Errorf("failed to decode entity role: %v", err)
			}
			name := roleName(i)
			if name == "" {
				name = strconv.Itoa(i)
			}
			entity.Roles = append(entity.Roles, name)
		}
	}

	return entity, nil
}

func parseFile(raw cbor.RawMessage) (*FileEvidence, error) {

	var file coswidFile
	err := decMode.Unmarshal(raw, &file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode file entry: %v", err)
	}

	f := &FileEvidence{
		FsName: file.FsName,
		Size:   file.Size,
	}

	if len(file.Hash) == 0 {
		return f, nil
	}

	// Algorithm and value must be present together
	var hash []cbor.RawMessage
	err = decMode.Unmarshal(file.Hash, &hash)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hash entry: %v", err)
	}
	if len(hash) != 2 {
		return nil, fmt.Errorf("hash entry has %v elements, expected 2", len(hash))
	}
	err = decMode.Unmarshal(hash[0], &f.HashAlg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hash algorithm: %v", err)
	}
	if majorType(hash[1]) != cborMajorByteString {
		return nil, errors.New("hash value is not a byte string")
	}
	var value []byte
	err = decMode.Unmarshal(hash[1], &value)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hash value: %v", err)
	}
	if len(value) == 0 {
		return nil, errors.New("hash value is empty")
	}
	f.HashValue = hex.EncodeToString(value)

	return f, nil
}

// EncodeEvidence encodes an EvidencePayload as EAT claims set. It is the inverse of
// ParseEvidence and used by attesters and for testing.
func EncodeEvidence(p *EvidencePayload) ([]byte, error) {

	claims := map[int]any{}
	if p.Nonce != nil {
		claims[EatNonceKey] = p.Nonce
	}
	if p.Ueid != nil {
		claims[EatUeidKey] = p.Ueid
	}

	if p.Measurements != nil {
		measurements := make([]any, 0, len(p.Measurements))
		for i, m := range p.Measurements {
			tag, err := encodeCoswid(&m)
			if err != nil {
				return nil, fmt.Errorf("failed to encode measurement %v: %w", i, err)
			}
			measurements = append(measurements, []any{m.ContentFormat, tag})
		}
		claims[EatMeasurementsKey] = measurements
	}

	return encMode.Marshal(claims)
}

func encodeCoswid(m *Measurement) (map[int]any, error) {

	tag := map[int]any{
		CoswidSoftwareNameKey: m.SoftwareName,
		CoswidTagVersionKey:   m.TagVersion,
	}

	if m.TagId != "" {
		if id, err := uuid.Parse(m.TagId); err == nil && len(m.TagId) == 36 {
			tag[CoswidTagIdKey] = id[:]
		} else {
			tag[CoswidTagIdKey] = m.TagId
		}
	}

	if m.Entity != nil {
		entity := map[int]any{
			CoswidEntityNameKey: m.Entity.Name,
		}
		roles := make([]any, 0, len(m.Entity.Roles))
		for _, r := range m.Entity.Roles {
			if v, ok := roleValue(r); ok {
				roles = append(roles, v)
			} else {
				roles = append(roles, r)
			}
		}
		if len(roles) == 1 {
			entity[CoswidRoleKey] = roles[0]
		} else if len(roles) > 1 {
			entity[CoswidRoleKey] = roles
		}
		tag[CoswidEntityKey] = entity
	}

	files := make([]any, 0, len(m.Files))
	for _, f := range m.Files {
		file := map[int]any{
			CoswidFsNameKey: f.FsName,
		}
		if f.Size != 0 {
			file[CoswidSizeKey] = f.Size
		}
		if f.HasHash() {
			value, err := hex.DecodeString(f.HashValue)
			if err != nil {
				return nil, fmt.Errorf("invalid hash value of file %v: %w", f.FsName, err)
			}
			file[CoswidHashKey] = []any{f.HashAlg, value}
		}
		files = append(files, file)
	}
	tag[CoswidEvidenceKey] = map[int]any{
		CoswidFileKey: files,
	}

	return tag, nil
}

// NormalizeHash returns the lowercase representation of a hex encoded digest
func NormalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func majorType(raw cbor.RawMessage) byte {
	if len(raw) == 0 {
		return 0xff
	}
	return raw[0] >> 5
}

func oneOrMore(raw cbor.RawMessage) ([]cbor.RawMessage, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if majorType(raw) != cborMajorArray {
		return []cbor.RawMessage{raw}, nil
	}
	var items []cbor.RawMessage
	err := decMode.Unmarshal(raw, &items)
	if err != nil {
		return nil, err
	}
	return items, nil
}
