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

package notify

import (
	"sync"
)

const DefaultSubscriberBuffer = 16

// Hub fans out notifications to subscribed observers. Observers which do not keep
// up lose notifications instead of blocking the authority.
type Hub struct {
	mu          sync.Mutex
	buffer      int
	subscribers map[chan Notification]struct{}
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{
		buffer:      buffer,
		subscribers: map[chan Notification]struct{}{},
	}
}

// Subscribe registers a new observer. The returned function unsubscribes the
// observer and closes the channel. It may be called multiple times.
func (h *Hub) Subscribe() (<-chan Notification, func()) {

	ch := make(chan Notification, h.buffer)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	n := len(h.subscribers)
	h.mu.Unlock()

	log.Debugf("Added observer (%v total)", n)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			n := len(h.subscribers)
			h.mu.Unlock()
			log.Debugf("Removed observer (%v remaining)", n)
		})
	}

	return ch, cancel
}

func (h *Hub) Notify(n Notification) {

	h.mu.Lock()
	defer h.mu.Unlock()

	log.Tracef("Notifying %v observers: %v", len(h.subscribers), n.Cmd)

	for ch := range h.subscribers {
		select {
		case ch <- n:
		default:
			log.Warnf("Observer too slow, dropping notification %v", n.Id)
		}
	}
}

// Len returns the number of subscribed observers
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
