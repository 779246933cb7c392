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

// Package coapapi serves the lake-ra and lake-authz endpoints of the authority
// over CoAP (UDP)
package coapapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	coapnet "github.com/plgd-dev/go-coap/v3/net"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/mux"
	"github.com/plgd-dev/go-coap/v3/options"
	"github.com/plgd-dev/go-coap/v3/udp"
	"github.com/sirupsen/logrus"

	// local modules
	"github.com/Fraunhofer-AISEC/authority/api"
	"github.com/Fraunhofer-AISEC/authority/authority"
	"github.com/Fraunhofer-AISEC/authority/challenge"
	"github.com/Fraunhofer-AISEC/authority/enrollment"
)

var log = logrus.WithField("service", "coapapi")

// CoapServer is the CoAP server structure
type CoapServer struct {
	authority *authority.Authority
	router    *mux.Router
}

func NewServer(a *authority.Authority) *CoapServer {
	s := &CoapServer{
		authority: a,
	}

	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	r.Handle(api.EndpointAttestationProposal, mux.HandlerFunc(s.attestationProposal))
	r.Handle(api.EndpointEvidence, mux.HandlerFunc(s.evidence))
	r.Handle(api.EndpointVoucherRequest, mux.HandlerFunc(s.voucherRequest))
	r.Handle(api.EndpointCredentialRequest, mux.HandlerFunc(s.credentialRequest))
	s.router = r

	return s
}

// Serve serves CoAP requests on the UDP address until the context is cancelled
func (s *CoapServer) Serve(ctx context.Context, addr string) error {
	l, err := coapnet.NewListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %v: %w", addr, err)
	}
	defer l.Close()

	return s.ServeListener(ctx, l)
}

// ServeListener serves CoAP requests on an existing listener until the context
// is cancelled
func (s *CoapServer) ServeListener(ctx context.Context, l *coapnet.UDPConn) error {

	srv := udp.NewServer(options.WithMux(s.router))

	errc := make(chan error, 1)
	go func() {
		log.Infof("Waiting for CoAP requests on %v", l.LocalAddr())
		errc <- srv.Serve(l)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Infof("Shutting down CoAP server")
	srv.Stop()
	<-errc

	return nil
}

func (s *CoapServer) attestationProposal(w mux.ResponseWriter, r *mux.Message) {

	log.Debug("Received CoAP attestation proposal")

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	resp, err := s.authority.HandleProposal(body)
	if errors.Is(err, challenge.ErrNoAcceptableFormat) {
		sendCoapError(w, r, codes.Forbidden, "%v", err)
		return
	} else if err != nil {
		sendCoapError(w, r, codes.BadRequest, "failed to handle attestation proposal: %v", err)
		return
	}

	SendCoapResponse(w, r, message.AppCBOR, resp)
}

func (s *CoapServer) evidence(w mux.ResponseWriter, r *mux.Message) {

	log.Debug("Received CoAP evidence")

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	resp, err := s.authority.HandleEvidence(body)
	if err != nil {
		sendCoapError(w, r, codes.InternalServerError, "failed to handle evidence: %v", err)
		return
	}

	SendCoapResponse(w, r, message.AppCBOR, resp)
}

func (s *CoapServer) voucherRequest(w mux.ResponseWriter, r *mux.Message) {

	log.Debug("Received CoAP voucher request")

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	resp, err := s.authority.HandleVoucherRequest(body)
	if errors.Is(err, enrollment.ErrUnauthorized) {
		sendCoapError(w, r, codes.Forbidden, "%v", err)
		return
	} else if errors.Is(err, enrollment.ErrNotConfigured) {
		sendCoapError(w, r, codes.NotImplemented, "%v", err)
		return
	} else if err != nil {
		sendCoapError(w, r, codes.BadRequest, "failed to handle voucher request: %v", err)
		return
	}

	SendCoapResponse(w, r, message.AppOctets, resp)
}

func (s *CoapServer) credentialRequest(w mux.ResponseWriter, r *mux.Message) {

	log.Debug("Received CoAP credential request")

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	resp, err := s.authority.HandleCredentialRequest(body)
	if errors.Is(err, enrollment.ErrCredentialNotFound) {
		sendCoapError(w, r, codes.NotFound, "%v", err)
		return
	} else if errors.Is(err, enrollment.ErrNotConfigured) {
		sendCoapError(w, r, codes.NotImplemented, "%v", err)
		return
	} else if err != nil {
		sendCoapError(w, r, codes.BadRequest, "failed to handle credential request: %v", err)
		return
	}

	SendCoapResponse(w, r, message.AppOctets, resp)
}

func SendCoapResponse(w mux.ResponseWriter, r *mux.Message, format message.MediaType, payload []byte) {
	customResp := w.Conn().AcquireMessage(r.Context())
	defer w.Conn().ReleaseMessage(customResp)
	customResp.SetCode(codes.Content)
	customResp.SetToken(r.Token())
	customResp.SetContentFormat(format)
	customResp.SetBody(bytes.NewReader(payload))
	err := w.Conn().WriteMessage(customResp)
	if err != nil {
		log.Errorf("cannot set response: %v", err)
	}
}

func sendCoapError(w mux.ResponseWriter, r *mux.Message, code codes.Code,
	format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warn(msg)
	customResp := w.Conn().AcquireMessage(r.Context())
	defer w.Conn().ReleaseMessage(customResp)
	customResp.SetCode(code)
	customResp.SetToken(r.Token())
	customResp.SetContentFormat(message.TextPlain)
	customResp.SetBody(bytes.NewReader([]byte(msg)))
	err := w.Conn().WriteMessage(customResp)
	if err != nil {
		log.Errorf("cannot set response: %v", err)
	}
}

func loggingMiddleware(next mux.Handler) mux.Handler {
	return mux.HandlerFunc(func(w mux.ResponseWriter, r *mux.Message) {
		log.Debugf("ClientAddress %v, %v", w.Conn().RemoteAddr(), r.String())
		next.ServeCOAP(w, r)
	})
}

func readBody(w mux.ResponseWriter, r *mux.Message) ([]byte, bool) {
	if r.Code() != codes.POST {
		sendCoapError(w, r, codes.MethodNotAllowed, "method %v not allowed", r.Code())
		return nil, false
	}
	if r.Body() == nil {
		return []byte{}, true
	}
	body, err := r.ReadBody()
	if err != nil {
		sendCoapError(w, r, codes.BadRequest, "failed to read CoAP message body: %v", err)
		return nil, false
	}
	if len(body) > api.MaxMsgLen {
		sendCoapError(w, r, codes.RequestEntityTooLarge, "request exceeds maximum size %v", api.MaxMsgLen)
		return nil, false
	}
	return body, true
}
