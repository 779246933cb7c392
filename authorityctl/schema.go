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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/urfave/cli/v3"

	"github.com/Fraunhofer-AISEC/authority/api"
	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/Fraunhofer-AISEC/authority/notify"
	"github.com/Fraunhofer-AISEC/authority/verifier"
)

var schemaObjects = []any{
	ar.AttestationVerdict{},
	notify.Notification{},
	verifier.TrustPolicyFile{},
	api.Identity{},
	api.AclResponse{},
	api.ProposalRequest{},
	api.EvidenceRequest{},
	api.EvidenceResponse{},
	api.SocketError{},
}

var schemaCommand = &cli.Command{
	Name:  "schema",
	Usage: "generate JSON schema definitions of the observer API and the trust policy",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  outFlag,
			Usage: "The directory the schema definitions shall be written to",
			Value: "schema",
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		files, err := writeSchemas(cmd.String(outFlag))
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return nil
	},
}

func writeSchemas(dir string) ([]string, error) {

	err := os.MkdirAll(dir, os.ModePerm)
	if err != nil {
		return nil, fmt.Errorf("error creating directory: %w", err)
	}

	r := &jsonschema.Reflector{
		ExpandedStruct:            false,
		Anonymous:                 true,
		DoNotReference:            false,
		AllowAdditionalProperties: true,
	}

	files := make([]string, 0, len(schemaObjects))
	for _, o := range schemaObjects {
		schema := r.Reflect(o)
		data, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema: %w", err)
		}

		f := filepath.Join(dir, fmt.Sprintf("%v.json", getName(o)))

		log.Debugf("Writing schema %v", f)

		err = os.WriteFile(f, data, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to write file: %w", err)
		}
		files = append(files, f)
	}

	return files, nil
}

func getName(v any) string {
	t := reflect.TypeOf(v)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}
