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

package challenge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("service", "challenge")

var (
	ErrNoAcceptableFormat = errors.New("no acceptable evidence format")
	ErrUnknownSession     = errors.New("unknown session")
	ErrChallengeExpired   = errors.New("challenge expired")
)

const (
	DefaultNonceSize = 8
	DefaultTtl       = 5 * time.Minute
)

// FormatPolicy decides which evidence content formats may be negotiated
type FormatPolicy interface {
	AcceptsFormat(format int) bool
}

// Session is an outstanding challenge issued to an attester
type Session struct {
	Id      string
	Nonce   []byte
	Format  int
	Created time.Time
}

// NonceHex returns the lowercase hex representation of the session nonce
func (s *Session) NonceHex() string {
	return hex.EncodeToString(s.Nonce)
}

// Manager issues single-use challenges and keeps them until they are consumed
// or expire. It is safe for concurrent use.
type Manager struct {
	formats   FormatPolicy
	nonceSize int
	ttl       time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

type Option func(*Manager)

func WithNonceSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.nonceSize = n
		}
	}
}

// WithTtl sets the lifetime of a challenge. A zero or negative value disables expiry.
func WithTtl(ttl time.Duration) Option {
	return func(m *Manager) {
		m.ttl = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(formats FormatPolicy, opts ...Option) *Manager {
	m := &Manager{
		formats:   formats,
		nonceSize: DefaultNonceSize,
		ttl:       DefaultTtl,
		now:       time.Now,
		sessions:  map[string]*Session{},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Propose selects the first of the candidate formats accepted by the format policy,
// generates a fresh nonce and stores both for the session. A previously issued,
// unconsumed challenge of the same session is replaced.
func (m *Manager) Propose(sessionId string, candidates []int) (int, []byte, error) {

	format, ok := m.selectFormat(candidates)
	if !ok {
		log.Debugf("Session %v: none of the formats %v is acceptable", sessionId, candidates)
		return 0, nil, fmt.Errorf("%w: %v", ErrNoAcceptableFormat, candidates)
	}

	nonce := make([]byte, m.nonceSize)
	_, err := rand.Read(nonce)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	s := m.store(sessionId, format, nonce)

	log.Debugf("Session %v: proposed format %v, nonce %v", sessionId, format, s.NonceHex())

	out := make([]byte, len(nonce))
	copy(out, nonce)

	return format, out, nil
}

// Register stores a challenge which was negotiated out of band, e.g. for
// evaluating recorded tokens. The format must be accepted by the format policy.
func (m *Manager) Register(sessionId string, format int, nonce []byte) error {
	if !m.formats.AcceptsFormat(format) {
		return fmt.Errorf("%w: %v", ErrNoAcceptableFormat, format)
	}
	if len(nonce) == 0 {
		return errors.New("empty nonce")
	}
	n := make([]byte, len(nonce))
	copy(n, nonce)
	s := m.store(sessionId, format, n)
	log.Debugf("Session %v: registered format %v, nonce %v", sessionId, format, s.NonceHex())
	return nil
}

func (m *Manager) store(sessionId string, format int, nonce []byte) *Session {
	s := &Session{
		Id:      sessionId,
		Nonce:   nonce,
		Format:  format,
		Created: m.now(),
	}

	m.mu.Lock()
	if _, exists := m.sessions[sessionId]; exists {
		log.Debugf("Session %v: replacing outstanding challenge", sessionId)
	}
	m.sessions[sessionId] = s
	m.mu.Unlock()

	return s
}

// Consume removes the challenge of the session and returns it. Each challenge
// can be consumed at most once.
func (m *Manager) Consume(sessionId string) (*Session, error) {

	m.mu.Lock()
	s, ok := m.sessions[sessionId]
	if ok {
		delete(m.sessions, sessionId)
	}
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSession, sessionId)
	}
	if m.expired(s, m.now()) {
		log.Debugf("Session %v: challenge created %v expired", sessionId, s.Created.Format(time.RFC3339))
		return nil, fmt.Errorf("%w: session %v", ErrChallengeExpired, sessionId)
	}

	log.Tracef("Session %v: consumed challenge", sessionId)

	return s, nil
}

// Prune removes all expired challenges and returns the number of removed entries
func (m *Manager) Prune() int {

	now := m.now()
	n := 0

	m.mu.Lock()
	for id, s := range m.sessions {
		if m.expired(s, now) {
			delete(m.sessions, id)
			n++
		}
	}
	m.mu.Unlock()

	if n > 0 {
		log.Debugf("Pruned %v expired challenges", n)
	}

	return n
}

// Run prunes expired challenges periodically until the context is cancelled
func (m *Manager) Run(ctx context.Context, interval time.Duration) {

	if interval <= 0 {
		interval = m.ttl
	}
	if interval <= 0 {
		log.Debug("Challenge expiry disabled, not pruning")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Trace("Stopping challenge pruning")
			return
		case <-ticker.C:
			m.Prune()
		}
	}
}

// Len returns the number of outstanding challenges
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) selectFormat(candidates []int) (int, bool) {
	if m.formats == nil {
		return 0, false
	}
	for _, c := range candidates {
		if m.formats.AcceptsFormat(c) {
			return c, true
		}
	}
	return 0, false
}

func (m *Manager) expired(s *Session, now time.Time) bool {
	if m.ttl <= 0 {
		return false
	}
	return now.Sub(s.Created) > m.ttl
}
