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
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/veraison/go-cose"
)

func TestSign1(t *testing.T) {
	tests := []struct {
		name string
		key  func() (crypto.Signer, error)
		want cose.Algorithm
	}{
		{
			name: "Sign Ed25519",
			key: func() (crypto.Signer, error) {
				_, priv, err := ed25519.GenerateKey(rand.Reader)
				return priv, err
			},
			want: cose.AlgorithmEdDSA,
		},
		{
			name: "Sign ECDSA P-256",
			key: func() (crypto.Signer, error) {
				return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
			},
			want: cose.AlgorithmES256,
		},
		{
			name: "Sign ECDSA P-384",
			key: func() (crypto.Signer, error) {
				return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
			},
			want: cose.AlgorithmES384,
		},
	}

	logrus.SetLevel(logrus.TraceLevel)

	s := CborSerializer{}
	payload := []byte("evidence")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := tt.key()
			if err != nil {
				t.Fatalf("Failed to setup test. Key generation failed: %v", err)
			}

			coseRaw, err := s.Sign1(payload, signer)
			if err != nil {
				t.Fatalf("Sign1() error = %v", err)
			}

			var msg cose.Sign1Message
			err = msg.UnmarshalCBOR(coseRaw)
			if err != nil {
				t.Fatalf("Failed to unmarshal signed message: %v", err)
			}

			alg, err := msg.Headers.Protected.Algorithm()
			if err != nil {
				t.Fatalf("Failed to read algorithm: %v", err)
			}
			if alg != tt.want {
				t.Errorf("Algorithm = %v, want %v", alg, tt.want)
			}

			verifier, err := cose.NewVerifier(alg, signer.Public())
			if err != nil {
				t.Fatalf("Failed to create verifier: %v", err)
			}
			if err := msg.Verify(nil, verifier); err != nil {
				t.Errorf("Verify() error = %v", err)
			}
			if !bytes.Equal(msg.Payload, payload) {
				t.Errorf("Payload = %x, want %x", msg.Payload, payload)
			}
		})
	}
}

func TestAlgorithmFromKey(t *testing.T) {

	edPub, _, _ := ed25519.GenerateKey(rand.Reader)
	p521, _ := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	p224, _ := ecdsa.GenerateKey(elliptic.P224(), rand.Reader)
	rsaKey, _ := rsa.GenerateKey(rand.Reader, 2048)

	tests := []struct {
		name    string
		pub     crypto.PublicKey
		want    cose.Algorithm
		wantErr bool
	}{
		{"Ed25519", edPub, cose.AlgorithmEdDSA, false},
		{"ECDSA P-521", &p521.PublicKey, cose.AlgorithmES512, false},
		{"RSA", &rsaKey.PublicKey, cose.AlgorithmPS256, false},
		{"ECDSA P-224", &p224.PublicKey, 0, true},
		{"Unsupported Type", "key", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AlgorithmFromKey(tt.pub)
			if (err != nil) != tt.wantErr {
				t.Fatalf("AlgorithmFromKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("AlgorithmFromKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnmarshalLimits(t *testing.T) {

	deep := bytes.Repeat([]byte{0x81}, MaxNestedLevels+4)
	deep = append(deep, 0x00)

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"Nested Within Limit", []byte{0x81, 0x81, 0x00}, false},
		{"Nested Too Deep", deep, true},
		{"Duplicate Map Key", []byte{0xa2, 0x01, 0x01, 0x01, 0x02}, true},
		{"Array Too Long", []byte{0x9a, 0x00, 0x01, 0x00, 0x00}, true},
	}

	s := CborSerializer{}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v any
			err := s.Unmarshal(tt.data, &v)
			if (err != nil) != tt.wantErr {
				t.Errorf("Unmarshal() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
