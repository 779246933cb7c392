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
	"crypto"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/Fraunhofer-AISEC/authority/internal"
)

const (
	keyFlag        = "key"
	nonceFlag      = "nonce"
	ueidFlag       = "ueid"
	formatFlag     = "format"
	tagIdFlag      = "tag-id"
	tagVersionFlag = "tag-version"
	nameFlag       = "name"
	entityFlag     = "entity"
	fsNameFlag     = "fs-name"
	sizeFlag       = "size"
	hashFlag       = "hash"
	hashAlgFlag    = "hash-alg"
)

// evidenceConfig describes the software an attester reports
type evidenceConfig struct {
	Key        crypto.Signer
	Ueid       []byte
	Format     int
	TagId      string
	TagVersion int
	Name       string
	Entity     string
	FsName     string
	Size       uint64
	Hash       string
	HashAlg    int
}

// sha-256, named information hash algorithm registry
const defaultHashAlg = 1

var evidenceFlags = []cli.Flag{
	&cli.StringFlag{
		Name:     keyFlag,
		Usage:    "Private key of the attester (raw, PEM, DER or JWK)",
		Required: true,
	},
	&cli.StringFlag{
		Name:  ueidFlag,
		Usage: "Hex encoded UEID of the attester",
	},
	&cli.IntFlag{
		Name:  formatFlag,
		Usage: "Content format of the measurement",
		Value: ar.ContentFormatSwid,
	},
	&cli.StringFlag{
		Name:  tagIdFlag,
		Usage: "CoSWID tag id",
	},
	&cli.IntFlag{
		Name:  tagVersionFlag,
		Usage: "CoSWID tag version",
	},
	&cli.StringFlag{
		Name:     nameFlag,
		Usage:    "Software name",
		Required: true,
	},
	&cli.StringFlag{
		Name:  entityFlag,
		Usage: "Name of the software creator",
	},
	&cli.StringFlag{
		Name:  fsNameFlag,
		Usage: "File name of the measured image",
	},
	&cli.UintFlag{
		Name:  sizeFlag,
		Usage: "Size of the measured image",
	},
	&cli.StringFlag{
		Name:     hashFlag,
		Usage:    "Hex encoded digest of the measured image",
		Required: true,
	},
	&cli.IntFlag{
		Name:  hashAlgFlag,
		Usage: "Hash algorithm of the digest",
		Value: defaultHashAlg,
	},
}

var tokenCommand = &cli.Command{
	Name:  "token",
	Usage: "create a signed attestation token",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:     nonceFlag,
			Usage:    "Hex encoded nonce of the challenge",
			Required: true,
		},
		&cli.StringFlag{
			Name:  outFlag,
			Usage: "Output file for the token",
			Value: "token.cbor",
		},
	}, evidenceFlags...),
	Action: func(ctx context.Context, cmd *cli.Command) error {
		c, err := getEvidenceConfig(cmd)
		if err != nil {
			return err
		}
		nonce, err := hex.DecodeString(cmd.String(nonceFlag))
		if err != nil {
			return fmt.Errorf("invalid nonce: %w", err)
		}
		token, err := createToken(c, nonce)
		if err != nil {
			return fmt.Errorf("failed to create token: %w", err)
		}
		out := cmd.String(outFlag)
		if err := os.WriteFile(out, token, 0644); err != nil {
			return fmt.Errorf("failed to write token: %w", err)
		}
		fmt.Printf("Wrote %v byte token to %v\n", len(token), out)
		return nil
	},
}

func getEvidenceConfig(cmd *cli.Command) (*evidenceConfig, error) {
	key, err := internal.LoadPrivateKey(cmd.String(keyFlag))
	if err != nil {
		return nil, err
	}

	c := &evidenceConfig{
		Key:        key,
		Format:     cmd.Int(formatFlag),
		TagId:      cmd.String(tagIdFlag),
		TagVersion: cmd.Int(tagVersionFlag),
		Name:       cmd.String(nameFlag),
		Entity:     cmd.String(entityFlag),
		FsName:     cmd.String(fsNameFlag),
		Size:       uint64(cmd.Uint(sizeFlag)),
		Hash:       cmd.String(hashFlag),
		HashAlg:    cmd.Int(hashAlgFlag),
	}

	if cmd.IsSet(ueidFlag) {
		c.Ueid, err = hex.DecodeString(cmd.String(ueidFlag))
		if err != nil {
			return nil, fmt.Errorf("invalid ueid: %w", err)
		}
	}
	if _, err := hex.DecodeString(ar.NormalizeHash(c.Hash)); err != nil {
		return nil, fmt.Errorf("invalid hash: %w", err)
	}

	return c, nil
}

// createToken creates the evidence for the nonce and signs it
func createToken(c *evidenceConfig, nonce []byte) ([]byte, error) {

	m := ar.Measurement{
		ContentFormat: c.Format,
		TagId:         c.TagId,
		TagVersion:    c.TagVersion,
		SoftwareName:  c.Name,
		Files: []ar.FileEvidence{
			{
				FsName:    c.FsName,
				Size:      c.Size,
				HashAlg:   c.HashAlg,
				HashValue: ar.NormalizeHash(c.Hash),
			},
		},
	}
	if c.Entity != "" {
		m.Entity = &ar.Entity{
			Name:  c.Entity,
			Roles: []string{"tagCreator"},
		}
	}

	payload, err := ar.EncodeEvidence(&ar.EvidencePayload{
		Nonce:        nonce,
		Ueid:         c.Ueid,
		Measurements: []ar.Measurement{m},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode evidence: %w", err)
	}

	log.Tracef("Evidence: %v", hex.EncodeToString(payload))

	return ar.CborSerializer{}.Sign1(payload, c.Key)
}
