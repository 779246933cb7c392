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
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/coreos/go-systemd/daemon"

	// local modules
	ip "github.com/Fraunhofer-AISEC/authority/attestationpolicies"
	"github.com/Fraunhofer-AISEC/authority/authority"
	"github.com/Fraunhofer-AISEC/authority/challenge"
	"github.com/Fraunhofer-AISEC/authority/enrollment"
	"github.com/Fraunhofer-AISEC/authority/internal"
	"github.com/Fraunhofer-AISEC/authority/notify"
	"github.com/Fraunhofer-AISEC/authority/verifier"
)

// Server serves the authority on a specific transport until the context is cancelled
type Server interface {
	Serve(ctx context.Context, c *config, a *authority.Authority, hub *notify.Hub) error
}

var servers = map[string]Server{}

func main() {

	log.Infof("Starting authorityd %v", getVersion())

	c, err := getConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = run(ctx, c)
	if err != nil {
		log.Fatalf("%v", err)
	}

	log.Info("Stopped authorityd")
}

func run(ctx context.Context, c *config) error {

	key, err := internal.LoadPublicKey(c.AttesterKey)
	if err != nil {
		return fmt.Errorf("failed to load attester key: %w", err)
	}

	policy, err := verifier.LoadTrustPolicy(c.TrustPolicy)
	if err != nil {
		return fmt.Errorf("failed to load trust policy: %w", err)
	}
	log.Infof("Loaded trust policy with %v allowlist entries, accepted formats %v",
		len(policy.Allowlist()), policy.AcceptedFormats())

	opts := []verifier.Option{}
	if c.CustomPolicy != "" {
		data, err := internal.GetFile(c.CustomPolicy, nil)
		if err != nil {
			return fmt.Errorf("failed to read custom policy: %w", err)
		}
		opts = append(opts, verifier.WithCustomPolicy(ip.NewPolicyValidator(data)))
	}

	challenges := challenge.NewManager(policy,
		challenge.WithNonceSize(c.NonceSize),
		challenge.WithTtl(c.challengeTtl))

	hub := notify.NewHub(notify.DefaultSubscriberBuffer)
	publisher := notify.NewPublisher(c.PublishAddr, c.PublishFile)
	defer publisher.Wait()

	acl := c.Acl
	if acl == nil {
		acl = authority.DefaultAcl
	}

	a, err := authority.New(&authority.Config{
		Id:          c.Id,
		Verifier:    verifier.New(policy, challenges, opts...),
		AttesterKey: key,
		Sink:        notify.Multi{hub, publisher},
		Acl:         enrollment.NewAcl(acl),
		Credentials: enrollment.NewCredentialStore(c.CredentialDir),
	})
	if err != nil {
		return fmt.Errorf("failed to create authority: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errc := make(chan error, len(c.Apis))

	if c.challengeTtl > 0 && c.pruneInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			challenges.Run(ctx, c.pruneInterval)
		}()
	}

	for _, name := range c.Apis {
		server := servers[strings.ToLower(name)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Serve(ctx, c, a, hub); err != nil {
				errc <- fmt.Errorf("%v server: %w", name, err)
				cancel()
			}
		}()
	}

	if err := notifySystemd(daemon.SdNotifyReady, c.Apis); err != nil {
		log.Warnf("Failed to notify systemd: %v", err)
	}

	<-ctx.Done()

	if err := notifySystemd(daemon.SdNotifyStopping, c.Apis); err != nil {
		log.Warnf("Failed to notify systemd: %v", err)
	}
	wg.Wait()
	close(errc)

	// Return the first server error, if any
	return <-errc
}
