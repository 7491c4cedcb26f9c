package creds

import (
	"context"
	"sync"
	"time"
)

// memSessions — дев-режим без redis. Протухшие записи выметаются
// лениво при обращении.
type memSessions struct {
	mu    sync.Mutex
	items map[string]memSession
	now   func() time.Time
}

type memSession struct {
	state     string
	expiresAt time.Time
}

func NewMemorySessions() SessionStore {
	return &memSessions{items: make(map[string]memSession), now: time.Now}
}

func (m *memSessions) Put(_ context.Context, id, state string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	m.items[id] = memSession{state: state, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *memSessions) Get(_ context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.items[id]
	if !ok || m.now().After(s.expiresAt) {
		delete(m.items, id)
		return "", ErrSessionNotFound
	}
	return s.state, nil
}

func (m *memSessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *memSessions) sweepLocked() {
	now := m.now()
	for id, s := range m.items {
		if now.After(s.expiresAt) {
			delete(m.items, id)
		}
	}
}
