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

package attestationreport

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"
)

const (
	// Limits applied when decoding attacker-controlled CBOR
	MaxNestedLevels  = 16
	MaxArrayElements = 1024
	MaxMapPairs      = 1024
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	// Deterministic encoding is required to reconstruct signing inputs byte by byte
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		log.Fatalf("internal error: failed to create CBOR encoding mode: %v", err)
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels:  MaxNestedLevels,
		MaxArrayElements: MaxArrayElements,
		MaxMapPairs:      MaxMapPairs,
	}.DecMode()
	if err != nil {
		log.Fatalf("internal error: failed to create CBOR decoding mode: %v", err)
	}
}

type CborSerializer struct{}

func (s CborSerializer) String() string {
	return "CBOR"
}

func (s CborSerializer) Marshal(v any) ([]byte, error) {
	log.Tracef("Marshalling data using %v serialization", s.String())
	return encMode.Marshal(v)
}

func (s CborSerializer) Unmarshal(data []byte, v any) error {
	log.Tracef("Unmarshalling data using %v serialization", s.String())
	return decMode.Unmarshal(data, v)
}

// Sign1 wraps the payload into a tagged COSE_Sign1 message signed with the given key.
// The algorithm is derived from the key and stored in the protected header.
func (s CborSerializer) Sign1(payload []byte, signer crypto.Signer) ([]byte, error) {

	log.Debugf("Signing CBOR data length %v...", len(payload))

	alg, err := AlgorithmFromKey(signer.Public())
	if err != nil {
		return nil, fmt.Errorf("failed to determine signing algorithm: %w", err)
	}

	coseSigner, err := cose.NewSigner(alg, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	msgToSign := cose.NewSign1Message()
	msgToSign.Headers.Protected.SetAlgorithm(alg)
	msgToSign.Payload = payload

	err = msgToSign.Sign(rand.Reader, nil, coseSigner)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w. len(data): %v", err, len(payload))
	}

	coseRaw, err := msgToSign.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cbor object: %w", err)
	}

	log.Trace("Signing finished")

	return coseRaw, nil
}

// AlgorithmFromKey returns the COSE algorithm matching the type of a public key
func AlgorithmFromKey(pub crypto.PublicKey) (cose.Algorithm, error) {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return cose.AlgorithmEdDSA, nil
	case *ecdsa.PublicKey:
		switch k.Curve {
		case elliptic.P256():
			return cose.AlgorithmES256, nil
		case elliptic.P384():
			return cose.AlgorithmES384, nil
		case elliptic.P521():
			return cose.AlgorithmES512, nil
		default:
			return 0, fmt.Errorf("unsupported curve %v", k.Curve.Params().Name)
		}
	case *rsa.PublicKey:
		return cose.AlgorithmPS256, nil
	default:
		return 0, fmt.Errorf("unsupported key type %T", pub)
	}
}
