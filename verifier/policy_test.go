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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

func TestParseTrustPolicy(t *testing.T) {
	tests := []struct {
		name          string
		filename      string
		data          string
		wantFormats   []int
		wantAllowlist []AllowlistEntry
		wantErr       bool
	}{
		{
			name:     "JSON Policy",
			filename: "policy.json",
			data: `{
				"acceptedFormats": [258, 60],
				"allowlist": [
					{"hash": "ABCD1234", "softwareName": "fw-v1"},
					{"hash": "00ff", "softwareName": "fw-v2"}
				]
			}`,
			wantFormats: []int{258, 60},
			wantAllowlist: []AllowlistEntry{
				{Hash: "abcd1234", SoftwareName: "fw-v1"},
				{Hash: "00ff", SoftwareName: "fw-v2"},
			},
		},
		{
			name:        "JSON Policy Default Format",
			filename:    "policy",
			data:        `{"allowlist": [{"hash": "abcd1234", "softwareName": "fw-v1"}]}`,
			wantFormats: []int{258},
			wantAllowlist: []AllowlistEntry{
				{Hash: "abcd1234", SoftwareName: "fw-v1"},
			},
		},
		{
			name:     "HCL Policy",
			filename: "policy.hcl",
			data: `
accepted_formats = [258]

software "fw-v1" {
  hashes = ["abcd1234", "BEEF"]
}

software "fw-v2" {
  hashes = ["00ff"]
}
`,
			wantFormats: []int{258},
			wantAllowlist: []AllowlistEntry{
				{Hash: "abcd1234", SoftwareName: "fw-v1"},
				{Hash: "beef", SoftwareName: "fw-v1"},
				{Hash: "00ff", SoftwareName: "fw-v2"},
			},
		},
		{
			name:     "JSON Missing Allowlist",
			filename: "policy.json",
			data:     `{"acceptedFormats": [258]}`,
			wantErr:  true,
		},
		{
			name:     "JSON Empty Hash",
			filename: "policy.json",
			data:     `{"allowlist": [{"hash": "", "softwareName": "fw-v1"}]}`,
			wantErr:  true,
		},
		{
			name:     "JSON Empty Name",
			filename: "policy.json",
			data:     `{"allowlist": [{"hash": "abcd", "softwareName": ""}]}`,
			wantErr:  true,
		},
		{
			name:     "JSON Invalid Hash",
			filename: "policy.json",
			data:     `{"allowlist": [{"hash": "xyz!", "softwareName": "fw-v1"}]}`,
			wantErr:  true,
		},
		{
			name:     "HCL Missing Hashes",
			filename: "policy.hcl",
			data:     `software "fw-v1" {}`,
			wantErr:  true,
		},
		{
			name:     "Invalid JSON",
			filename: "policy.json",
			data:     `{`,
			wantErr:  true,
		},
	}

	logrus.SetLevel(logrus.TraceLevel)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseTrustPolicy(tt.filename, []byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTrustPolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.wantFormats, p.AcceptedFormats()); diff != "" {
				t.Errorf("AcceptedFormats() mismatch (-want +got):\n%s", diff)
			}
			for _, e := range tt.wantAllowlist {
				if !p.Allows(e.Hash, e.SoftwareName) {
					t.Errorf("Allows(%v, %v) = false, want true", e.Hash, e.SoftwareName)
				}
			}
			if got := len(p.Allowlist()); got != len(tt.wantAllowlist) {
				t.Errorf("len(Allowlist()) = %v, want %v", got, len(tt.wantAllowlist))
			}
		})
	}
}

func TestAllows(t *testing.T) {
	p, err := NewTrustPolicy(nil, []AllowlistEntry{
		{Hash: "abcd1234", SoftwareName: "fw-v1"},
		{Hash: "00ff", SoftwareName: "fw-v2"},
	})
	if err != nil {
		t.Fatalf("NewTrustPolicy() error = %v", err)
	}

	tests := []struct {
		name         string
		hash         string
		softwareName string
		want         bool
	}{
		{"Exact Match", "abcd1234", "fw-v1", true},
		{"Uppercase Hash", "ABCD1234", "fw-v1", true},
		{"Unknown Hash", "deadbeef", "fw-v1", false},
		{"Hash Of Other Software", "00ff", "fw-v1", false},
		{"Name Case Sensitive", "abcd1234", "FW-V1", false},
		{"Empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Allows(tt.hash, tt.softwareName); got != tt.want {
				t.Errorf("Allows() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadTrustPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.hcl")
	err := os.WriteFile(path, []byte(`software "fw-v1" { hashes = ["abcd1234"] }`), 0644)
	if err != nil {
		t.Fatalf("Failed to setup test: %v", err)
	}

	p, err := LoadTrustPolicy(path)
	if err != nil {
		t.Fatalf("LoadTrustPolicy() error = %v", err)
	}
	if !p.Allows("abcd1234", "fw-v1") {
		t.Errorf("Allows() = false, want true")
	}

	_, err = LoadTrustPolicy(filepath.Join(dir, "missing.json"))
	if err == nil {
		t.Errorf("LoadTrustPolicy() of missing file succeeded")
	}
}
