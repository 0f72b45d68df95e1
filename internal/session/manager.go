// Package session tracks the lifecycle of a device's connection to the
// gateway: identity, negotiated audio format, feature flags and the
// pipeline state machine driven by internal/connection.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the coarse lifecycle state of a session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// PipelineState is the fine-grained conversational state driven by the
// connection handler's state machine.
type PipelineState string

const (
	StateListening PipelineState = "listening"
	StateReceiving PipelineState = "receiving"
	StateThinking  PipelineState = "thinking"
	StateSpeaking  PipelineState = "speaking"
	StateClosed    PipelineState = "closed"
)

// AuthMethod records how a device authenticated, for audit logging.
type AuthMethod string

const (
	AuthAllowlist AuthMethod = "allowlist"
	AuthBearer    AuthMethod = "bearer"
)

var ErrNotFound = errors.New("session not found")

// Features holds per-device capability flags negotiated at hello time.
type Features struct {
	MCP bool
}

// Session is one device's live connection to the gateway.
type Session struct {
	ID       string        `json:"session_id"`
	DeviceID string        `json:"device_id"`
	ClientID string        `json:"client_id"`
	ClientIP string        `json:"client_ip"`
	Status   Status        `json:"status"`
	State    PipelineState `json:"state"`

	AudioFormat  string     `json:"audio_format"`
	SampleRateHz int        `json:"sample_rate_hz"`
	Features     Features   `json:"features"`
	AuthMethod   AuthMethod `json:"auth_method"`

	WelcomeMessage string `json:"welcome_message,omitempty"`

	// Bundle holds the session's ProviderBundle (internal/providers),
	// stored as `any` here to avoid an import cycle back into providers.
	Bundle any `json:"-"`

	InterruptionCount int       `json:"interruption_count"`
	StartedAt         time.Time `json:"started_at"`
	LastActivityAtMs  int64     `json:"last_activity_at_ms"`
}

// Manager owns the set of live sessions and expires inactive ones.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	sessionByDevice   map[string]string
	inactivityTimeout time.Duration
	onExpire          func(*Session)
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		sessionByDevice:   make(map[string]string),
		inactivityTimeout: inactivityTimeout,
	}
}

func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

// Create registers a new session for a just-upgraded device connection.
func (m *Manager) Create(deviceID, clientID, clientIP string, auth AuthMethod) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:               uuid.NewString(),
		DeviceID:         deviceID,
		ClientID:         clientID,
		ClientIP:         clientIP,
		Status:           StatusActive,
		State:            StateListening,
		AuthMethod:       auth,
		StartedAt:        now,
		LastActivityAtMs: now.UnixMilli(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	if deviceID != "" {
		m.sessionByDevice[deviceID] = s.ID
	}
	return clone(s)
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

// Touch refreshes a session's last-activity timestamp.
func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAtMs = time.Now().UnixMilli()
	return nil
}

// SetState transitions a session's pipeline state and touches activity.
func (m *Manager) SetState(sessionID string, state PipelineState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.State = state
	s.LastActivityAtMs = time.Now().UnixMilli()
	return nil
}

// SetBundle attaches a freshly-built ProviderBundle to the session.
func (m *Manager) SetBundle(sessionID string, bundle any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Bundle = bundle
	return nil
}

// Interrupt records a barge-in event on the session.
func (m *Manager) Interrupt(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.InterruptionCount++
	s.State = StateListening
	s.LastActivityAtMs = time.Now().UnixMilli()
	return nil
}

func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	s.Status = StatusEnded
	s.State = StateClosed
	s.LastActivityAtMs = time.Now().UnixMilli()
	if s.DeviceID != "" {
		delete(m.sessionByDevice, s.DeviceID)
	}
	return clone(s), nil
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) expireInactive() {
	nowMs := time.Now().UnixMilli()
	cutoffMs := m.inactivityTimeout.Milliseconds()
	var expired []*Session

	m.mu.Lock()
	for _, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if nowMs-s.LastActivityAtMs < cutoffMs {
			continue
		}
		s.Status = StatusEnded
		s.State = StateClosed
		s.LastActivityAtMs = nowMs
		expired = append(expired, clone(s))
		if s.DeviceID != "" {
			delete(m.sessionByDevice, s.DeviceID)
		}
	}
	hook := m.onExpire
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
