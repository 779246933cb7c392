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
	"fmt"
	"os"
	"strings"

	"github.com/coreos/go-systemd/daemon"
)

// sdState builds the sd_notify message for the given state and status line
func sdState(state string, apis []string) string {
	return fmt.Sprintf("%v\nSTATUS=Serving %v", state, strings.Join(apis, ", "))
}

// notifySystemd reports a state change to the service manager. Outside of
// systemd it does nothing.
func notifySystemd(state string, apis []string) error {

	if _, ok := os.LookupEnv("NOTIFY_SOCKET"); !ok {
		log.Tracef("Not running under systemd, skipping notification")
		return nil
	}

	sent, err := daemon.SdNotify(false, sdState(state, apis))
	if err != nil {
		return fmt.Errorf("systemd notify returned error: %w", err)
	}
	if !sent {
		return fmt.Errorf("systemd notify returned false")
	}

	log.Debugf("Notified systemd: %v", strings.SplitN(state, "=", 2)[0])

	return nil
}
