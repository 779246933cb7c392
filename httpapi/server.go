// Copyright (c) 2025 Fraunhofer AISEC
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

// Package httpapi serves the lake-ra and lake-authz endpoints of the authority
// as well as the observer API over HTTP
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Fraunhofer-AISEC/authority/api"
	"github.com/Fraunhofer-AISEC/authority/authority"
	"github.com/Fraunhofer-AISEC/authority/challenge"
	"github.com/Fraunhofer-AISEC/authority/enrollment"
	"github.com/Fraunhofer-AISEC/authority/notify"
)

var log = logrus.WithField("service", "httpapi")

const shutdownTimeout = 5 * time.Second

type Server struct {
	addr      string
	authority *authority.Authority
	hub       *notify.Hub
	router    *gin.Engine
}

// NewServer creates the HTTP server. If hub is nil, the events endpoint is not served.
func NewServer(addr string, a *authority.Authority, hub *notify.Hub) *Server {

	s := &Server{
		addr:      addr,
		authority: a,
		hub:       hub,
	}

	router := gin.New()
	router.Use(gin.Recovery(), loggingMiddleware())

	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:  []string{"Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
	}))

	router.POST(api.EndpointAttestationProposal, s.handleAttestationProposal)
	router.POST(api.EndpointEvidence, s.handleEvidence)
	router.POST(api.EndpointVoucherRequest, s.handleVoucherRequest)
	router.POST(api.EndpointCredentialRequest, s.handleCredentialRequest)

	router.GET(api.EndpointId, s.handleGetId)
	router.GET(api.EndpointAcl, s.handleGetAcl)
	router.PUT(api.EndpointAcl+"/:id", s.handlePutAcl)
	router.DELETE(api.EndpointAcl+"/:id", s.handleDeleteAcl)
	if hub != nil {
		router.GET(api.EndpointEvents, s.handleEvents)
	}

	s.router = router

	return s
}

// Handler returns the router of the server
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve serves HTTP requests until the context is cancelled
func (s *Server) Serve(ctx context.Context) error {

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof("Serving HTTP requests on %v", s.addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("failed to serve HTTP: %w", err)
	case <-ctx.Done():
	}

	log.Infof("Shutting down HTTP server")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("%v %v from %v: %v (%v)", c.Request.Method, c.Request.URL.Path,
			c.ClientIP(), c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) handleAttestationProposal(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	resp, err := s.authority.HandleProposal(body)
	if errors.Is(err, challenge.ErrNoAcceptableFormat) {
		sendError(c, http.StatusForbidden, "%v", err)
		return
	} else if err != nil {
		sendError(c, http.StatusBadRequest, "failed to handle attestation proposal: %v", err)
		return
	}

	c.Data(http.StatusOK, api.ContentTypeCbor, resp)
}

func (s *Server) handleEvidence(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	resp, err := s.authority.HandleEvidence(body)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "failed to handle evidence: %v", err)
		return
	}

	c.Data(http.StatusOK, api.ContentTypeCbor, resp)
}

func (s *Server) handleVoucherRequest(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	resp, err := s.authority.HandleVoucherRequest(body)
	if errors.Is(err, enrollment.ErrUnauthorized) {
		sendError(c, http.StatusForbidden, "%v", err)
		return
	} else if errors.Is(err, enrollment.ErrNotConfigured) {
		sendError(c, http.StatusNotImplemented, "%v", err)
		return
	} else if err != nil {
		sendError(c, http.StatusBadRequest, "failed to handle voucher request: %v", err)
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", resp)
}

func (s *Server) handleCredentialRequest(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	resp, err := s.authority.HandleCredentialRequest(body)
	if errors.Is(err, enrollment.ErrCredentialNotFound) {
		sendError(c, http.StatusNotFound, "%v", err)
		return
	} else if errors.Is(err, enrollment.ErrNotConfigured) {
		sendError(c, http.StatusNotImplemented, "%v", err)
		return
	} else if err != nil {
		sendError(c, http.StatusBadRequest, "failed to handle credential request: %v", err)
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", resp)
}

func (s *Server) handleGetId(c *gin.Context) {
	c.JSON(http.StatusOK, s.authority.Identity())
}

func (s *Server) handleGetAcl(c *gin.Context) {
	c.JSON(http.StatusOK, api.AclResponse{Acl: s.authority.Acl().List()})
}

func (s *Server) handlePutAcl(c *gin.Context) {
	id, err := getId(c)
	if err != nil {
		sendError(c, http.StatusBadRequest, "%v", err)
		return
	}
	log.Infof("Adding dotbot %v to ACL", id)
	s.authority.Acl().Add(id)
	c.JSON(http.StatusOK, api.AclResponse{Acl: s.authority.Acl().List()})
}

func (s *Server) handleDeleteAcl(c *gin.Context) {
	id, err := getId(c)
	if err != nil {
		sendError(c, http.StatusBadRequest, "%v", err)
		return
	}
	log.Infof("Removing dotbot %v from ACL", id)
	s.authority.Acl().Remove(id)
	c.JSON(http.StatusOK, api.AclResponse{Acl: s.authority.Acl().List()})
}

// handleEvents streams notifications to the observer as server-sent events
func (s *Server) handleEvents(c *gin.Context) {

	ch, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	log.Debugf("Observer %v connected", c.ClientIP())

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case n, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(n.Cmd.String(), n)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})

	log.Debugf("Observer %v disconnected", c.ClientIP())
}

var idCheck = regexp.MustCompile(`^[0-9]{1,3}$`)

func getId(c *gin.Context) (int, error) {
	id := c.Param("id")
	if !idCheck.MatchString(id) {
		return 0, fmt.Errorf("id must be a decimal number between 0 and 255")
	}
	i, err := strconv.Atoi(id)
	if err != nil || i > 255 {
		return 0, fmt.Errorf("id must be a decimal number between 0 and 255")
	}
	return i, nil
}

func readBody(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, api.MaxMsgLen)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			sendError(c, http.StatusRequestEntityTooLarge, "request exceeds maximum size %v", api.MaxMsgLen)
		} else {
			sendError(c, http.StatusBadRequest, "failed to read body: %v", err)
		}
		return nil, false
	}
	return body, true
}

func sendError(c *gin.Context, status int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Warn(msg)
	c.JSON(status, gin.H{"message": msg})
}
