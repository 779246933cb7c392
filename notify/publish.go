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

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"
)

const publishTimeout = 15 * time.Second

// Publisher logs attestation verdicts and optionally stores them to a file and
// sends them to a remote server
type Publisher struct {
	addr   string
	file   string
	client *http.Client
	wg     sync.WaitGroup
}

func NewPublisher(addr, file string) *Publisher {
	return &Publisher{
		addr:   addr,
		file:   file,
		client: http.DefaultClient,
	}
}

// Notify publishes the notification asynchronously
func (p *Publisher) Notify(n Notification) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.Publish(n)
		if err != nil {
			log.Warnf("Failed to asynchronously publish notification: %v", err)
		}
	}()
}

// Wait blocks until all asynchronous publications are finished
func (p *Publisher) Wait() {
	p.wg.Wait()
}

func (p *Publisher) Publish(n Notification) error {

	switch n.Cmd {
	case CmdAuthorizationResult:
		if n.Authorization == nil {
			return fmt.Errorf("will not publish authorization result: not present")
		}
		log.Infof("Authorization of DotBot %v: %v", n.Authorization.Id, n.Authorization.Authorized)
		return nil
	case CmdAttestationResult:
	default:
		log.Tracef("Will not publish notification %v", n.Cmd)
		return nil
	}

	result := n.Attestation
	if result == nil {
		return fmt.Errorf("will not publish attestation result: not present")
	}

	// Log the result
	if result.Success {
		log.Infof("SUCCESS: Attestation for session %v (%v %v)", result.Session,
			result.SoftwareName, result.Created)
	} else {
		log.Warnf("FAILED: Attestation for session %v (%v %v): %v", result.Session,
			result.SoftwareName, result.Created, result.Reasons)
	}

	// Save the attestation result to file
	if p.file != "" {
		log.Debugf("Publishing result to file %q", p.file)
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal attestation verdict: %v", err)
		}

		err = os.WriteFile(p.file, data, 0644)
		if err != nil {
			log.Warnf("Failed to write: %v", err)
		}
		log.Debugf("Wrote file %v", p.file)
	} else {
		log.Trace("Will not publish attestation result to file: no file specified")
	}

	// Send the attestation result to the specified server
	if p.addr != "" {
		log.Debugf("Publishing result to '%v'", p.addr)

		data, err := json.Marshal(n)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %v", err)
		}

		err = p.send(data)
		if err != nil {
			log.Warnf("Failed to publish: %v", err)
			return err
		}
	} else {
		log.Trace("Will not publish to remote server: no address specified")
	}

	return nil
}

func (p *Publisher) send(result []byte) error {

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.addr, bytes.NewBuffer(result))
	if err != nil {
		return fmt.Errorf("failed to create new http request with context: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("failed to publish result: server responded with %v: %v",
			resp.Status, string(data))
	}

	log.Debugf("Successfully published result: server responded with %v", resp.Status)

	return nil
}
