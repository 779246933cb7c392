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
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	ip "github.com/Fraunhofer-AISEC/authority/attestationpolicies"
	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/Fraunhofer-AISEC/authority/challenge"
	"github.com/Fraunhofer-AISEC/authority/internal"
	"github.com/Fraunhofer-AISEC/authority/verifier"
)

const (
	tokenFlag        = "token"
	policyFlag       = "policy"
	customPolicyFlag = "custom-policy"
)

const offlineSession = "offline"

var verifyCommand = &cli.Command{
	Name:  "verify",
	Usage: "verify a recorded attestation token against a trust policy",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     tokenFlag,
			Usage:    "Attestation token file",
			Required: true,
		},
		&cli.StringFlag{
			Name:     keyFlag,
			Usage:    "Public key of the attester (raw, PEM, DER or JWK)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     policyFlag,
			Usage:    "Trust policy file (JSON or HCL)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     nonceFlag,
			Usage:    "Hex encoded nonce the token must answer",
			Required: true,
		},
		&cli.IntFlag{
			Name:  formatFlag,
			Usage: "Negotiated content format",
			Value: ar.ContentFormatSwid,
		},
		&cli.StringFlag{
			Name:  customPolicyFlag,
			Usage: "Optional JavaScript custom policy file",
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		verdict, err := verifyOffline(
			cmd.String(tokenFlag), cmd.String(keyFlag), cmd.String(policyFlag),
			cmd.String(nonceFlag), cmd.Int(formatFlag), cmd.String(customPolicyFlag))
		if err != nil {
			return err
		}
		return printVerdict(verdict)
	},
}

func verifyOffline(tokenFile, keyFile, policyFile, nonceHex string, format int, customPolicy string) (*ar.AttestationVerdict, error) {

	token, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read token: %w", err)
	}
	key, err := internal.LoadPublicKey(keyFile)
	if err != nil {
		return nil, err
	}
	policy, err := verifier.LoadTrustPolicy(policyFile)
	if err != nil {
		return nil, err
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}

	var opts []verifier.Option
	if customPolicy != "" {
		data, err := os.ReadFile(customPolicy)
		if err != nil {
			return nil, fmt.Errorf("failed to read custom policy: %w", err)
		}
		opts = append(opts, verifier.WithCustomPolicy(ip.NewPolicyValidator(data)))
	}

	challenges := challenge.NewManager(policy)
	if err := challenges.Register(offlineSession, format, nonce); err != nil {
		return nil, fmt.Errorf("failed to register challenge: %w", err)
	}

	verdict, err := verifier.New(policy, challenges, opts...).Evaluate(offlineSession, token, key)
	if err != nil {
		log.Warnf("Failed to evaluate token: %v", err)
	}

	return verdict, nil
}

// printVerdict prints the verdict as JSON and returns an error if the
// attestation failed
func printVerdict(verdict *ar.AttestationVerdict) error {
	data, err := json.MarshalIndent(verdict, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	fmt.Println(string(data))

	if !verdict.Success {
		return errors.New("attestation failed")
	}
	return nil
}
