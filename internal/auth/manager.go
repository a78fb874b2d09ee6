// Package auth pairs local IPC clients and checks their tokens.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/KartoffelChipss/pelagica/playerd/internal/log"
)

const (
	tokenBytes             = 32 // 256-bit tokens
	defaultMaxAuthFailures = 5
	defaultLockout         = 60 * time.Second
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrPending        = errors.New("client awaiting approval")
	ErrLockedOut      = errors.New("too many authentication failures")
)

// ClientInfo describes a paired client without its token.
type ClientInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"createdAt"`
}

// PairResult is what a new client receives.
type PairResult struct {
	Token            string `json:"token"`
	ClientID         string `json:"clientId"`
	RequiresApproval bool   `json:"requiresApproval"`
}

// Options tunes a Manager.
type Options struct {
	// AutoApprove approves clients at pairing; otherwise they wait for Approve
	AutoApprove bool
	// MaxFailures bad tokens in a row lock a peer out (default: 5)
	MaxFailures int
	// Lockout is how long a lockout lasts (default: 60s)
	Lockout time.Duration
}

// Manager handles client authentication
type Manager struct {
	store  *Store
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	mu           sync.Mutex
	authFailures map[string]int       // peer -> failure count
	lockouts     map[string]time.Time // peer -> lockout end
}

// NewManager creates a new auth manager
func NewManager(store *Store, opts Options) *Manager {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = defaultMaxAuthFailures
	}
	if opts.Lockout <= 0 {
		opts.Lockout = defaultLockout
	}
	return &Manager{
		store:        store,
		opts:         opts,
		logger:       log.WithComponent("auth"),
		now:          time.Now,
		authFailures: make(map[string]int),
		lockouts:     make(map[string]time.Time),
	}
}

// Pair registers a client and returns its token. Without AutoApprove the
// token is refused until the client is approved.
func (m *Manager) Pair(clientName string) (PairResult, error) {
	token, err := generateToken()
	if err != nil {
		return PairResult{}, fmt.Errorf("failed to generate token: %w", err)
	}

	clientID := uuid.NewString()
	if err := m.store.AddClient(clientID, clientName, token, m.opts.AutoApprove); err != nil {
		return PairResult{}, fmt.Errorf("failed to store client: %w", err)
	}

	m.logger.Info().Str("client_id", clientID).Str("client", clientName).Bool("approved", m.opts.AutoApprove).Msg("client paired")
	return PairResult{
		Token:            token,
		ClientID:         clientID,
		RequiresApproval: !m.opts.AutoApprove,
	}, nil
}

// Authenticate checks token for peer, counting failures towards a lockout.
func (m *Manager) Authenticate(peer, token string) error {
	if m.IsLockedOut(peer) {
		return ErrLockedOut
	}
	if token == "" {
		m.RecordAuthFailure(peer)
		return ErrUnauthorized
	}

	client, err := m.store.GetClientByToken(token)
	if err != nil {
		m.RecordAuthFailure(peer)
		return ErrUnauthorized
	}
	if !client.Approved {
		return ErrPending
	}

	m.mu.Lock()
	delete(m.authFailures, peer)
	m.mu.Unlock()
	return nil
}

// ValidateToken reports whether token belongs to an approved client.
func (m *Manager) ValidateToken(token string) bool {
	if token == "" {
		return false
	}
	client, err := m.store.GetClientByToken(token)
	return err == nil && client.Approved
}

// RecordAuthFailure records an authentication failure
func (m *Manager) RecordAuthFailure(peer string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.authFailures[peer]++
	if m.authFailures[peer] >= m.opts.MaxFailures {
		m.lockouts[peer] = m.now().Add(m.opts.Lockout)
		m.authFailures[peer] = 0
		m.logger.Warn().Str("peer", peer).Dur("lockout", m.opts.Lockout).Msg("peer locked out")
	}
}

// IsLockedOut checks if a peer is locked out
func (m *Manager) IsLockedOut(peer string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	end, exists := m.lockouts[peer]
	if !exists {
		return false
	}
	if !m.now().Before(end) {
		delete(m.lockouts, peer)
		return false
	}
	return true
}

// Approve lets a pending client in.
func (m *Manager) Approve(clientID string) error {
	return m.store.Approve(clientID)
}

// RevokeClient revokes a client's access
func (m *Manager) RevokeClient(clientID string) error {
	return m.store.RemoveClient(clientID)
}

// ListClients returns all registered clients
func (m *Manager) ListClients() []ClientInfo {
	return m.store.ListClients()
}

func generateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashToken creates a SHA-256 hash of a token for storage
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
