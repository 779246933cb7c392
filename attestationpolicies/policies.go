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

package attestationpolicies

import (
	"encoding/json"
	"time"

	ar "github.com/Fraunhofer-AISEC/authority/attestationreport"
	"github.com/robertkrimen/otto"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "policy-agent")

// Maximum runtime of a single policy evaluation
const DefaultTimeout = 2 * time.Second

type errTimeout struct{}

// JavaScriptValidator is a javascript implementation of the
// verifier PolicyValidator interface
type JavaScriptValidator struct {
	policies []byte
	timeout  time.Duration
}

// NewPolicyValidator creates a new JavaScriptValidator with custom policies.
// Custom policies are handed over as a byte array. This implementation
// accepts custom policies as javascript code. The javascript code
// can parse the AttestationVerdict in the variable 'json', i.e.:
//
//	var obj = JSON.parse(json);
//
// The javascript code must return a single boolean to indicate the
// success of the parsing. Logs can be output via: console.log()
// A very simple example of a custom Policy could look as follows:
//
//		var obj = JSON.parse(json);
//		var success = true;
//		if (obj.tagVersion < 2) {
//			console.log("Outdated firmware");
//			success = false;
//		}
//	    success
func NewPolicyValidator(policies []byte) *JavaScriptValidator {
	return &JavaScriptValidator{
		policies: policies,
		timeout:  DefaultTimeout,
	}
}

// Validate uses a javascript engine to validate the JavaScriptValidator's
// custom javascript policies against the attestation verdict
func (p *JavaScriptValidator) Validate(verdict ar.AttestationVerdict) (ok bool) {

	log.Debugf("Validating custom javascript policies for session %v", verdict.Session)

	v, err := json.Marshal(verdict)
	if err != nil {
		log.Errorf("Failed to marshal attestation verdict: %v", err)
		return false
	}

	// Create new javascript engine
	vm := otto.New()
	vm.Interrupt = make(chan func(), 1)

	// Set variable json = v
	vm.Set("json", string(v))

	// Abort policies which do not terminate in time
	timer := time.AfterFunc(p.timeout, func() {
		vm.Interrupt <- func() {
			panic(errTimeout{})
		}
	})
	defer timer.Stop()
	defer func() {
		if r := recover(); r != nil {
			if _, isTimeout := r.(errTimeout); !isTimeout {
				panic(r)
			}
			log.Errorf("Policy validation timed out after %v", p.timeout)
			ok = false
		}
	}()

	// Run javascript validation
	val, err := vm.Run(string(p.policies))
	if err != nil {
		log.Errorf("Failed run policy validation: %v", err)
		return false
	}

	if !val.IsBoolean() {
		log.Errorf("Policy validation did not return a boolean")
		return false
	}

	// Retrieve result
	ok, err = val.ToBoolean()
	if err != nil {
		log.Errorf("Failed convert policy validation result: %v", err)
		return false
	}

	log.Debugf("Policy Validation: %v", ok)

	return ok
}
