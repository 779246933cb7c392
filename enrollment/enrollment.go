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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "enrollment")

var (
	ErrUnauthorized       = errors.New("dotbot not authorized")
	ErrNotConfigured      = errors.New("enrollment not configured")
	ErrCredentialNotFound = errors.New("credential not found")
)

// VoucherServer is the enrollment server side of the lake-authz handshake. The
// handshake itself is performed by the implementation and opaque to the authority.
type VoucherServer interface {
	// DecodeVoucherRequest returns the identity of the device which sent the request
	DecodeVoucherRequest(req []byte) ([]byte, error)
	// PrepareVoucher creates the voucher response for an authorized request
	PrepareVoucher(req []byte) ([]byte, error)
}

// DeviceId returns the short DotBot identifier, the last byte of the identity
func DeviceId(idU []byte) (int, error) {
	if len(idU) == 0 {
		return 0, errors.New("empty device identity")
	}
	return int(idU[len(idU)-1]), nil
}

// Acl is the list of DotBots allowed to join the network. It is safe for concurrent use.
type Acl struct {
	mu  sync.RWMutex
	ids []int
}

func NewAcl(ids []int) *Acl {
	return &Acl{
		ids: slices.Clone(ids),
	}
}

func (a *Acl) Contains(id int) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Contains(a.ids, id)
}

func (a *Acl) Add(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !slices.Contains(a.ids, id) {
		a.ids = append(a.ids, id)
	}
}

func (a *Acl) Remove(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = slices.DeleteFunc(a.ids, func(e int) bool { return e == id })
}

// List returns a copy of the allowed ids
func (a *Acl) List() []int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.ids)
}

// CredentialStore serves the CBOR encoded raw public key credentials created with
// authorityctl new, stored as dotbot<kid>-cred-rpk.cbor
type CredentialStore struct {
	dir string
}

func NewCredentialStore(dir string) *CredentialStore {
	return &CredentialStore{
		dir: dir,
	}
}

// CredentialFile returns the file name of the credential with the given key id
func CredentialFile(label string) string {
	return fmt.Sprintf("%v-cred-rpk.cbor", label)
}

// Credential returns the credential of the DotBot with the given key id
func (s *CredentialStore) Credential(kid int) ([]byte, error) {
	if s == nil || s.dir == "" {
		return nil, ErrNotConfigured
	}

	file := filepath.Join(s.dir, CredentialFile(fmt.Sprintf("dotbot%d", kid)))
	log.Debugf("Reading credential %v", file)

	data, err := os.ReadFile(file)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: kid %v", ErrCredentialNotFound, kid)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}

	return data, nil
}
