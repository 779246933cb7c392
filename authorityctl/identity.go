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

	"github.com/urfave/cli/v3"

	"github.com/Fraunhofer-AISEC/authority/enrollment"
	"github.com/Fraunhofer-AISEC/authority/internal"
)

const (
	basedirFlag = "basedir"
	labelFlag   = "label"
)

var newCommand = &cli.Command{
	Name:  "new",
	Usage: "create the credentials of a new DotBot identity",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  basedirFlag,
			Usage: "Directory the credentials are written to",
			Value: ".",
		},
		&cli.StringFlag{
			Name:     labelFlag,
			Usage:    "Label of the identity, must end with the key identifier digit, e.g. dotbot1",
			Required: true,
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		files, err := newIdentity(cmd.String(basedirFlag), cmd.String(labelFlag))
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Println(f)
		}
		return nil
	},
}

var listCommand = &cli.Command{
	Name:  "list",
	Usage: "list the DotBot identities found in a directory",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  basedirFlag,
			Usage: "Directory to search for credentials",
			Value: ".",
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		ids, err := enrollment.ListIdentities(cmd.String(basedirFlag))
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(ids, "", "    ")
		if err != nil {
			return fmt.Errorf("failed to marshal identities: %w", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

func newIdentity(dir, label string) ([]string, error) {
	if err := internal.EnsureDir(dir); err != nil {
		return nil, err
	}
	id, err := enrollment.NewIdentity(label)
	if err != nil {
		return nil, err
	}
	log.Infof("Created identity %v (%v)", label, id.Id)
	return id.Write(dir)
}
