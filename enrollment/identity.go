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

package enrollment

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/google/uuid"

	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/Fraunhofer-AISEC/authority/internal"
)

var oidPseudonym = asn1.ObjectIdentifier{2, 5, 4, 65}

// CCS and COSE_Key labels of raw public key credentials
const (
	ccsSub    = 2
	ccsCnf    = 8
	cnfKey    = 1
	keyKty    = 1
	keyKid    = 2
	ktyEc2    = 2
	ec2Crv    = -1
	ec2X      = -2
	ec2Y      = -3
	crvP256   = 1
	coordSize = 32
)

var labelPrefix = regexp.MustCompile(`^([a-z0-9]+)-`)

// Identity is the key material of a DotBot, gateway or server
type Identity struct {
	Label   string
	Id      uuid.UUID
	Key     *ecdsa.PrivateKey
	Cert    *x509.Certificate
	CredRpk []byte
}

// NewIdentity creates a P-256 key, a self-signed certificate and the raw public
// key credential for the label. The last character of the label must be a digit,
// it is used as key id.
func NewIdentity(label string) (*Identity, error) {

	if label == "" {
		return nil, errors.New("empty label")
	}
	last := label[len(label)-1]
	if last < '0' || last > '9' {
		return nil, fmt.Errorf("label %q does not end with a digit", label)
	}
	kid := last - '0'

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate uuid: %w", err)
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 159))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	name := pkix.Name{
		Country:      []string{"FR"},
		Organization: []string{"Inria"},
		CommonName:   id.URN(),
		ExtraNames: []pkix.AttributeTypeAndValue{
			{Type: oidPseudonym, Value: label},
		},
	}
	now := time.Now().UTC()
	tmpl := &x509.Certificate{
		SerialNumber:       serial,
		Subject:            name,
		Issuer:             name,
		NotBefore:          now,
		NotAfter:           now.Add(365 * 24 * time.Hour),
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &priv.PublicKey, priv)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	pub, err := priv.PublicKey.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to convert public key: %w", err)
	}
	// Uncompressed point 0x04 || X || Y
	point := pub.Bytes()

	ccs := map[int]any{
		ccsSub: id[:],
		ccsCnf: map[int]any{
			cnfKey: map[int]any{
				keyKty: ktyEc2,
				keyKid: []byte{kid},
				ec2Crv: crvP256,
				ec2X:   point[1 : 1+coordSize],
				ec2Y:   point[1+coordSize:],
			},
		},
	}
	cred, err := ar.CborSerializer{}.Marshal(ccs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credential: %w", err)
	}

	log.Debugf("Created identity %v for %v (kid %v)", id, label, kid)

	return &Identity{
		Label:   label,
		Id:      id,
		Key:     priv,
		Cert:    cert,
		CredRpk: cred,
	}, nil
}

// Files returns the encoded identity keyed by file name
func (i *Identity) Files() (map[string][]byte, error) {
	sec1, err := x509.MarshalECPrivateKey(i.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	priv, err := i.Key.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to convert private key: %w", err)
	}

	return map[string][]byte{
		fmt.Sprintf("%v-cert-p256.pem", i.Label): internal.WriteCertPem(i.Cert),
		fmt.Sprintf("%v-priv-p256.pem", i.Label): pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: sec1}),
		fmt.Sprintf("%v-priv-bytes", i.Label):    priv.Bytes(),
		CredentialFile(i.Label):                  i.CredRpk,
	}, nil
}

// Write stores the identity files in the directory
func (i *Identity) Write(dir string) ([]string, error) {
	files, err := i.Files()
	if err != nil {
		return nil, err
	}
	var written []string
	for name, data := range files {
		p := filepath.Join(dir, name)
		log.Infof("Writing %v bytes to %v", len(data), p)
		if err := os.WriteFile(p, data, 0600); err != nil {
			return nil, fmt.Errorf("failed to write %v: %w", p, err)
		}
		written = append(written, p)
	}
	slices.Sort(written)
	return written, nil
}

// ListIdentities groups the files in the directory by the label they belong to
func ListIdentities(dir string) (map[string][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	labels := map[string][]string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := labelPrefix.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		labels[m[1]] = append(labels[m[1]], e.Name())
	}
	for label := range labels {
		slices.Sort(labels[label])
	}

	return labels, nil
}
