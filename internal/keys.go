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

package internal

import (
	"bytes"
	"crypto"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// ParsePublicKey parses a public key from one of the supported encodings:
// raw 32 byte Ed25519 key, PEM or DER encoded PKIX public key or X.509
// certificate, or JSON Web Key
func ParsePublicKey(data []byte) (crypto.PublicKey, error) {

	if len(data) == ed25519.PublicKeySize {
		log.Trace("Parsing raw Ed25519 public key")
		return ed25519.PublicKey(bytes.Clone(data)), nil
	}

	if isJson(data) {
		jwk, err := parseJwk(data)
		if err != nil {
			return nil, err
		}
		return jwk.Public().Key, nil
	}

	input := data
	if block, _ := pem.Decode(data); block != nil {
		log.Tracef("Parsing PEM block %v", block.Type)
		input = block.Bytes
	}

	if key, err := x509.ParsePKIXPublicKey(input); err == nil {
		return key, nil
	}
	if cert, err := x509.ParseCertificate(input); err == nil {
		return cert.PublicKey, nil
	}

	return nil, errors.New("failed to parse public key: unknown encoding")
}

// ParsePrivateKey parses a private key from one of the supported encodings:
// raw Ed25519 seed (32 bytes) or key (64 bytes), PEM or DER encoded PKCS#8 or
// SEC 1 private key, or JSON Web Key
func ParsePrivateKey(data []byte) (crypto.Signer, error) {

	switch len(data) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(data), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(bytes.Clone(data)), nil
	}

	if isJson(data) {
		jwk, err := parseJwk(data)
		if err != nil {
			return nil, err
		}
		if jwk.IsPublic() {
			return nil, errors.New("JSON web key does not contain a private key")
		}
		signer, ok := jwk.Key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported JSON web key type %T", jwk.Key)
		}
		return signer, nil
	}

	input := data
	if block, _ := pem.Decode(data); block != nil {
		log.Tracef("Parsing PEM block %v", block.Type)
		input = block.Bytes
	}

	if key, err := x509.ParsePKCS8PrivateKey(input); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
		return signer, nil
	}
	if key, err := x509.ParseECPrivateKey(input); err == nil {
		return key, nil
	}

	return nil, errors.New("failed to parse private key: unknown encoding")
}

// LoadPublicKey reads and parses the public key file
func LoadPublicKey(file string) (crypto.PublicKey, error) {
	data, err := GetFile(file, nil)
	if err != nil {
		return nil, err
	}
	key, err := ParsePublicKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %w", file, err)
	}
	return key, nil
}

// LoadPrivateKey reads and parses the private key file
func LoadPrivateKey(file string) (crypto.Signer, error) {
	data, err := GetFile(file, nil)
	if err != nil {
		return nil, err
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %v: %w", file, err)
	}
	return key, nil
}

func WritePublicKeyPem(key crypto.PublicKey) ([]byte, error) {
	pk, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal PKIX public key: %w", err)
	}
	p := &bytes.Buffer{}
	pem.Encode(p, &pem.Block{Type: "PUBLIC KEY", Bytes: pk})
	return p.Bytes(), nil
}

func WritePrivateKeyPem(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal PKCS#8 private key: %w", err)
	}
	p := &bytes.Buffer{}
	pem.Encode(p, &pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return p.Bytes(), nil
}

func WriteCertPem(cert *x509.Certificate) []byte {
	p := &bytes.Buffer{}
	pem.Encode(p, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	return p.Bytes()
}

// WriteJwk encodes the key as JSON web key
func WriteJwk(key any) ([]byte, error) {
	jwk := jose.JSONWebKey{Key: key}
	if !jwk.Valid() {
		return nil, fmt.Errorf("unsupported key type %T", key)
	}
	return json.MarshalIndent(jwk, "", "    ")
}

func parseJwk(data []byte) (*jose.JSONWebKey, error) {
	jwk := new(jose.JSONWebKey)
	if err := jwk.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON web key: %w", err)
	}
	if !jwk.Valid() {
		return nil, errors.New("invalid JSON web key")
	}
	return jwk, nil
}

func isJson(data []byte) bool {
	d := bytes.TrimSpace(data)
	return len(d) > 0 && d[0] == '{'
}
