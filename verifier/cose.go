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
	"errors"
	"fmt"

	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

var (
	ErrMalformedEnvelope = errors.New("malformed COSE_Sign1 envelope")
	ErrInvalidSignature  = errors.New("invalid signature")
)

const (
	coseSign1Tag       = 18
	sign1ContextString = "Signature1"
)

const (
	cborMajorByteString = 2
	cborMajorMap        = 5
	cborMajorTag        = 6
)

// DecodeEnvelope decodes a COSE_Sign1 structure, optionally wrapped into CBOR tag 18.
// The protected header is kept exactly as received, as it is part of the signing input.
func DecodeEnvelope(raw []byte) (*ar.SignedEnvelope, error) {

	s := ar.CborSerializer{}

	data := raw
	if majorType(raw) == cborMajorTag {
		var tag cbor.RawTag
		err := s.Unmarshal(raw, &tag)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode tag: %v", ErrMalformedEnvelope, err)
		}
		if tag.Number != coseSign1Tag {
			return nil, fmt.Errorf("%w: unexpected tag %v", ErrMalformedEnvelope, tag.Number)
		}
		data = tag.Content
	}

	var elems []cbor.RawMessage
	err := s.Unmarshal(data, &elems)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(elems) != 4 {
		return nil, fmt.Errorf("%w: expected 4 elements, got %v", ErrMalformedEnvelope, len(elems))
	}

	if majorType(elems[0]) != cborMajorByteString {
		return nil, fmt.Errorf("%w: protected header is not a byte string", ErrMalformedEnvelope)
	}
	if majorType(elems[1]) != cborMajorMap {
		return nil, fmt.Errorf("%w: unprotected header is not a map", ErrMalformedEnvelope)
	}
	if majorType(elems[2]) != cborMajorByteString {
		return nil, fmt.Errorf("%w: payload is not a byte string", ErrMalformedEnvelope)
	}
	if majorType(elems[3]) != cborMajorByteString {
		return nil, fmt.Errorf("%w: signature is not a byte string", ErrMalformedEnvelope)
	}

	env := &ar.SignedEnvelope{
		Unprotected: elems[1],
	}
	if err := s.Unmarshal(elems[0], &env.Protected); err != nil {
		return nil, fmt.Errorf("%w: protected header: %v", ErrMalformedEnvelope, err)
	}
	if err := s.Unmarshal(elems[2], &env.Payload); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, err)
	}
	if err := s.Unmarshal(elems[3], &env.Signature); err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrMalformedEnvelope, err)
	}

	// An unusable protected header leaves the algorithm unset. The header bytes
	// are still covered by the signature, so verification fails.
	if len(env.Protected) > 0 {
		var hdr cose.ProtectedHeader
		err = hdr.UnmarshalCBOR(elems[0])
		if err != nil {
			log.Debugf("Failed to decode protected header: %v", err)
		} else {
			env.Algorithm, err = hdr.Algorithm()
			if errors.Is(err, cose.ErrAlgorithmNotFound) {
				env.Algorithm = 0
			} else if err != nil {
				log.Debugf("Invalid algorithm in protected header: %v", err)
				env.Algorithm = 0
			}
		}
	}

	log.Tracef("Decoded COSE_Sign1: algorithm %v, payload length %v, signature length %v",
		env.Algorithm, len(env.Payload), len(env.Signature))

	return env, nil
}

// SigStructure returns the canonical encoding of the COSE Sig_structure
// ["Signature1", protected, h'', payload] covered by the signature
func SigStructure(env *ar.SignedEnvelope) ([]byte, error) {

	protected := env.Protected
	if protected == nil {
		protected = []byte{}
	}
	payload := env.Payload
	if payload == nil {
		payload = []byte{}
	}

	s := ar.CborSerializer{}
	return s.Marshal([]any{sign1ContextString, protected, []byte{}, payload})
}

// VerifyEnvelope verifies the signature of a decoded envelope with the given public key.
// If the envelope does not specify an algorithm, the algorithm is derived from the key.
func VerifyEnvelope(env *ar.SignedEnvelope, key crypto.PublicKey) error {

	alg := env.Algorithm
	if alg == 0 {
		var err error
		alg, err = ar.AlgorithmFromKey(key)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		log.Tracef("No algorithm in protected header, using %v", alg)
	}

	verifier, err := cose.NewVerifier(alg, key)
	if err != nil {
		return fmt.Errorf("%w: failed to create %v verifier: %v", ErrInvalidSignature, alg, err)
	}

	tbs, err := SigStructure(env)
	if err != nil {
		return fmt.Errorf("%w: failed to encode signing input: %v", ErrInvalidSignature, err)
	}

	err = verifier.Verify(tbs, env.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return nil
}

// DecodeAndVerify decodes an attestation token, verifies its signature and parses the
// contained evidence. The evidence is only parsed if the signature is valid.
func DecodeAndVerify(raw []byte, key crypto.PublicKey) (*ar.EvidencePayload, error) {

	log.Debug("Decoding attestation token")

	env, err := DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	log.Debug("Verifying attestation token signature")

	err = VerifyEnvelope(env, key)
	if err != nil {
		return nil, err
	}

	log.Debug("Parsing evidence")

	payload, err := ar.ParseEvidence(env.Payload)
	if err != nil {
		return nil, err
	}

	return payload, nil
}

func majorType(raw []byte) byte {
	if len(raw) == 0 {
		return 0xff
	}
	return raw[0] >> 5
}
