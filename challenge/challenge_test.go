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
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

type formats []int

func (f formats) AcceptsFormat(format int) bool {
	for _, a := range f {
		if a == format {
			return true
		}
	}
	return false
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestPropose(t *testing.T) {
	tests := []struct {
		name       string
		accepted   formats
		candidates []int
		nonceSize  int
		want       int
		wantErr    error
	}{
		{
			name:       "Single Accepted Format",
			accepted:   formats{258},
			candidates: []int{258},
			want:       258,
		},
		{
			name:       "First Accepted Candidate Wins",
			accepted:   formats{258, 60},
			candidates: []int{1, 60, 258},
			want:       60,
		},
		{
			name:       "Custom Nonce Size",
			accepted:   formats{258},
			candidates: []int{258},
			nonceSize:  32,
			want:       258,
		},
		{
			name:       "No Acceptable Format",
			accepted:   formats{258},
			candidates: []int{60, 61},
			wantErr:    ErrNoAcceptableFormat,
		},
		{
			name:       "No Candidates",
			accepted:   formats{258},
			candidates: nil,
			wantErr:    ErrNoAcceptableFormat,
		},
	}

	logrus.SetLevel(logrus.TraceLevel)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.accepted, WithNonceSize(tt.nonceSize))

			got, nonce, err := m.Propose("session-1", tt.candidates)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Propose() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				if m.Len() != 0 {
					t.Errorf("Len() = %v, want 0", m.Len())
				}
				return
			}
			if got != tt.want {
				t.Errorf("Propose() format = %v, want %v", got, tt.want)
			}
			wantSize := tt.nonceSize
			if wantSize == 0 {
				wantSize = DefaultNonceSize
			}
			if len(nonce) != wantSize {
				t.Errorf("Propose() nonce length = %v, want %v", len(nonce), wantSize)
			}

			s, err := m.Consume("session-1")
			if err != nil {
				t.Fatalf("Consume() error = %v", err)
			}
			if !bytes.Equal(s.Nonce, nonce) {
				t.Errorf("Consume() nonce = %x, want %x", s.Nonce, nonce)
			}
			if s.Format != tt.want {
				t.Errorf("Consume() format = %v, want %v", s.Format, tt.want)
			}
		})
	}
}

func TestConsume(t *testing.T) {

	clock := &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}

	tests := []struct {
		name    string
		prepare func(m *Manager)
		wantErr error
	}{
		{
			name: "Consume Success",
			prepare: func(m *Manager) {
				m.Propose("s", []int{258})
			},
		},
		{
			name:    "Unknown Session",
			prepare: func(m *Manager) {},
			wantErr: ErrUnknownSession,
		},
		{
			name: "Consumed Twice",
			prepare: func(m *Manager) {
				m.Propose("s", []int{258})
				m.Consume("s")
			},
			wantErr: ErrUnknownSession,
		},
		{
			name: "Expired",
			prepare: func(m *Manager) {
				m.Propose("s", []int{258})
				clock.Advance(DefaultTtl + time.Second)
			},
			wantErr: ErrChallengeExpired,
		},
		{
			name: "Not Yet Expired",
			prepare: func(m *Manager) {
				m.Propose("s", []int{258})
				clock.Advance(DefaultTtl - time.Second)
			},
		},
	}

	logrus.SetLevel(logrus.TraceLevel)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(formats{258}, WithClock(clock.Now))
			tt.prepare(m)

			_, err := m.Consume("s")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Consume() error = %v, want %v", err, tt.wantErr)
			}
			if m.Len() != 0 {
				t.Errorf("Len() = %v after consume, want 0", m.Len())
			}

			_, err = m.Consume("s")
			if !errors.Is(err, ErrUnknownSession) {
				t.Errorf("second Consume() error = %v, want %v", err, ErrUnknownSession)
			}
		})
	}
}

func TestProposeReplaces(t *testing.T) {
	m := NewManager(formats{258})

	_, first, err := m.Propose("s", []int{258})
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	_, second, err := m.Propose("s", []int{258})
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatalf("Propose() returned identical nonces")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %v, want 1", m.Len())
	}

	s, err := m.Consume("s")
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if !bytes.Equal(s.Nonce, second) {
		t.Errorf("Consume() nonce = %x, want latest nonce %x", s.Nonce, second)
	}
}

func TestPrune(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewManager(formats{258}, WithClock(clock.Now), WithTtl(time.Minute))

	m.Propose("old-1", []int{258})
	m.Propose("old-2", []int{258})
	clock.Advance(50 * time.Second)
	m.Propose("new", []int{258})
	clock.Advance(20 * time.Second)

	if n := m.Prune(); n != 2 {
		t.Errorf("Prune() = %v, want 2", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %v, want 1", m.Len())
	}
	if _, err := m.Consume("new"); err != nil {
		t.Errorf("Consume() error = %v", err)
	}
}

func TestNoExpiry(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	m := NewManager(formats{258}, WithClock(clock.Now), WithTtl(0))

	m.Propose("s", []int{258})
	clock.Advance(24 * time.Hour)

	if n := m.Prune(); n != 0 {
		t.Errorf("Prune() = %v, want 0", n)
	}
	if _, err := m.Consume("s"); err != nil {
		t.Errorf("Consume() error = %v", err)
	}
}

func TestRun(t *testing.T) {
	m := NewManager(formats{258}, WithTtl(time.Nanosecond))
	m.Propose("s", []int{258})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for m.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %v, want 0 after pruning", m.Len())
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not return after cancellation")
	}
}

func TestConcurrentSessions(t *testing.T) {
	m := NewManager(formats{258})

	logrus.SetLevel(logrus.WarnLevel)

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", i)
			_, nonce, err := m.Propose(id, []int{258})
			if err != nil {
				errs <- err
				return
			}
			s, err := m.Consume(id)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(s.Nonce, nonce) {
				errs <- fmt.Errorf("session %v: nonce mismatch", id)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %v, want 0", m.Len())
	}
}

func TestRegister(t *testing.T) {
	m := NewManager(formats{258})
	nonce := []byte{0xde, 0xad, 0xbe, 0xef}

	if err := m.Register("recorded", 258, nonce); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	nonce[0] = 0x00

	s, err := m.Consume("recorded")
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if s.NonceHex() != "deadbeef" || s.Format != 258 {
		t.Errorf("Consume() = %v/%v, want deadbeef/258", s.NonceHex(), s.Format)
	}

	if err := m.Register("recorded", 60, []byte{0x01}); !errors.Is(err, ErrNoAcceptableFormat) {
		t.Errorf("Register() error = %v, want %v", err, ErrNoAcceptableFormat)
	}
	if err := m.Register("recorded", 258, nil); err == nil {
		t.Errorf("Register() succeeded for empty nonce")
	}
}
