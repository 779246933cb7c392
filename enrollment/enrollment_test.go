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
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDeviceId(t *testing.T) {
	tests := []struct {
		name    string
		idU     []byte
		want    int
		wantErr bool
	}{
		{"Single Byte", []byte{0x2b}, 43, false},
		{"Last Byte Wins", []byte{0xa1, 0x04, 0x41, 0x01}, 1, false},
		{"Empty", nil, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeviceId(tt.idU)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DeviceId() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("DeviceId() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAcl(t *testing.T) {
	ids := []int{1, 43}
	a := NewAcl(ids)
	ids[0] = 99

	if !a.Contains(1) || !a.Contains(43) || a.Contains(2) {
		t.Errorf("Contains() does not match initial list %v", a.List())
	}

	a.Add(2)
	a.Add(2)
	a.Remove(1)

	if diff := cmp.Diff([]int{43, 2}, a.List()); diff != "" {
		t.Errorf("List() mismatch (-want +got):\n%s", diff)
	}
}

func TestCredentialStore(t *testing.T) {
	dir := t.TempDir()
	cred := []byte{0xa2, 0x02, 0x41, 0x00, 0x08, 0xa0}
	err := os.WriteFile(filepath.Join(dir, "dotbot3-cred-rpk.cbor"), cred, 0644)
	if err != nil {
		t.Fatalf("Failed to setup test: %v", err)
	}

	s := NewCredentialStore(dir)

	got, err := s.Credential(3)
	if err != nil {
		t.Fatalf("Credential() error = %v", err)
	}
	if !bytes.Equal(got, cred) {
		t.Errorf("Credential() = %x, want %x", got, cred)
	}

	_, err = s.Credential(4)
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("Credential() error = %v, want %v", err, ErrCredentialNotFound)
	}

	_, err = NewCredentialStore("").Credential(3)
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Credential() error = %v, want %v", err, ErrNotConfigured)
	}
}
