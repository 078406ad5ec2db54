package services

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

const (
	maxSubscribedComponents = 16
	maxComponentNameLength  = 32
)

var (
	ErrInvalidSubscription  = errors.New("invalid subscription request")
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// SubscriptionRequest is a client message on an open websocket:
// {"action":"subscribe","components":["gateway","vault"]}.
type SubscriptionRequest struct {
	Action     string   `json:"action"` // subscribe | unsubscribe | reset
	Components []string `json:"components"`
}

// WebSocketSubscriptionManager narrows the events a connection receives to
// a set of components ("vault", "gateway", a token symbol, ...). A
// connection without subscriptions receives every event that mentions its
// account.
type WebSocketSubscriptionManager struct {
	mu         sync.RWMutex
	components map[string]map[string]bool // connectionID -> component set
}

// NewWebSocketSubscriptionManager creates a new subscription manager
func NewWebSocketSubscriptionManager() *WebSocketSubscriptionManager {
	return &WebSocketSubscriptionManager{
		components: make(map[string]map[string]bool),
	}
}

// Apply executes req for connID and returns the resulting subscriptions.
func (m *WebSocketSubscriptionManager) Apply(connID string, req SubscriptionRequest) ([]string, error) {
	switch req.Action {
	case "subscribe":
		return m.Subscribe(connID, req.Components)
	case "unsubscribe":
		return m.Unsubscribe(connID, req.Components)
	case "reset":
		m.Remove(connID)
		return nil, nil
	default:
		return m.Subscriptions(connID), ErrInvalidSubscription
	}
}

// Subscribe adds components to the connection's filter.
func (m *WebSocketSubscriptionManager) Subscribe(connID string, components []string) ([]string, error) {
	names, err := normalizeComponents(components)
	if err != nil {
		return m.Subscriptions(connID), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.components[connID]
	if set == nil {
		set = make(map[string]bool, len(names))
	}
	for _, name := range names {
		set[name] = true
	}
	if len(set) > maxSubscribedComponents {
		return sortedKeys(m.components[connID]), ErrInvalidSubscription
	}
	m.components[connID] = set
	return sortedKeys(set), nil
}

// Unsubscribe drops components; removing the last one restores the
// unfiltered default.
func (m *WebSocketSubscriptionManager) Unsubscribe(connID string, components []string) ([]string, error) {
	names, err := normalizeComponents(components)
	if err != nil {
		return m.Subscriptions(connID), err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set, exists := m.components[connID]
	if !exists {
		return nil, ErrSubscriptionNotFound
	}
	for _, name := range names {
		delete(set, name)
	}
	if len(set) == 0 {
		delete(m.components, connID)
		return nil, nil
	}
	return sortedKeys(set), nil
}

// Remove forgets a connection.
func (m *WebSocketSubscriptionManager) Remove(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.components, connID)
}

// Wants reports whether an event from component should reach connID.
func (m *WebSocketSubscriptionManager) Wants(connID, component string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, exists := m.components[connID]
	if !exists {
		return true
	}
	return set[strings.ToLower(component)]
}

// Subscriptions lists the connection's components, nil when unfiltered.
func (m *WebSocketSubscriptionManager) Subscriptions(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.components[connID])
}

func normalizeComponents(components []string) ([]string, error) {
	if len(components) == 0 || len(components) > maxSubscribedComponents {
		return nil, ErrInvalidSubscription
	}
	names := make([]string, 0, len(components))
	for _, c := range components {
		name := strings.ToLower(strings.TrimSpace(c))
		if name == "" || len(name) > maxComponentNameLength {
			return nil, ErrInvalidSubscription
		}
		names = append(names, name)
	}
	return names, nil
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
