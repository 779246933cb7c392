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
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/Fraunhofer-AISEC/authority/internal"
)

const (
	outFlag = "out"
	jwkFlag = "jwk"
)

var keygenCommand = &cli.Command{
	Name:  "keygen",
	Usage: "generate an Ed25519 attester key pair",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  outFlag,
			Usage: "Prefix of the key files (<out>.key, <out>.pub)",
			Value: "attester",
		},
		&cli.BoolFlag{
			Name:  jwkFlag,
			Usage: "Additionally write the keys as JSON web keys",
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		files, err := keygen(cmd.String(outFlag), cmd.Bool(jwkFlag))
		if err != nil {
			return fmt.Errorf("failed to generate keys: %w", err)
		}
		for _, f := range files {
			fmt.Println("Wrote", f)
		}
		return nil
	},
}

func keygen(prefix string, jwk bool) ([]string, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	privPem, err := internal.WritePrivateKeyPem(priv)
	if err != nil {
		return nil, err
	}
	pubPem, err := internal.WritePublicKeyPem(pub)
	if err != nil {
		return nil, err
	}

	files := map[string][]byte{
		prefix + ".key": privPem,
		prefix + ".pub": pubPem,
	}
	if jwk {
		privJwk, err := internal.WriteJwk(priv)
		if err != nil {
			return nil, err
		}
		pubJwk, err := internal.WriteJwk(pub)
		if err != nil {
			return nil, err
		}
		files[prefix+".key.jwk"] = privJwk
		files[prefix+".pub.jwk"] = pubJwk
	}

	var written []string
	for _, name := range []string{prefix + ".key", prefix + ".pub", prefix + ".key.jwk", prefix + ".pub.jwk"} {
		data, ok := files[name]
		if !ok {
			continue
		}
		log.Debugf("Writing %v", name)
		if err := os.WriteFile(name, data, 0600); err != nil {
			return nil, fmt.Errorf("failed to write %v: %w", name, err)
		}
		written = append(written, name)
	}

	return written, nil
}
