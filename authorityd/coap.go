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

//go:build !nodefaults || coap

package main

import (
	"context"

	// local modules
	"github.com/Fraunhofer-AISEC/authority/authority"
	"github.com/Fraunhofer-AISEC/authority/coapapi"
	"github.com/Fraunhofer-AISEC/authority/notify"
)

// CoapServer is the CoAP server structure
type CoapServer struct{}

func init() {
	servers["coap"] = CoapServer{}
}

func (s CoapServer) Serve(ctx context.Context, c *config, a *authority.Authority, hub *notify.Hub) error {
	log.Infof("Starting authority CoAP server on %v", c.CoapAddr)
	return coapapi.NewServer(a).Serve(ctx, c.CoapAddr)
}
