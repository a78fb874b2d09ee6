package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// StoredClient is a paired IPC client as kept on disk.
type StoredClient struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	TokenHash string    `json:"tokenHash"` // SHA-256 of the token
	Approved  bool      `json:"approved"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists paired clients to a JSON file.
type Store struct {
	path    string
	mu      sync.RWMutex
	clients map[string]*StoredClient // clientID -> client
}

// NewStore opens the store at path. A missing file is an empty store.
func NewStore(path string) (*Store, error) {
	store := &Store{
		path:    path,
		clients: make(map[string]*StoredClient),
	}

	if err := store.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load store: %w", err)
	}

	return store, nil
}

// AddClient stores a client under the hash of token.
func (s *Store) AddClient(clientID, name, token string, approved bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients[clientID] = &StoredClient{
		ID:        clientID,
		Name:      name,
		TokenHash: HashToken(token),
		Approved:  approved,
		CreatedAt: time.Now().UTC(),
	}

	return s.saveLocked()
}

// Approve marks a pending client as approved.
func (s *Store) Approve(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[clientID]
	if !ok {
		return ErrClientNotFound
	}
	if client.Approved {
		return nil
	}
	client.Approved = true

	return s.saveLocked()
}

// RemoveClient deletes a client.
func (s *Store) RemoveClient(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.clients[clientID]; !exists {
		return ErrClientNotFound
	}
	delete(s.clients, clientID)

	return s.saveLocked()
}

// GetClientByToken returns the client holding token, approved or not.
func (s *Store) GetClientByToken(token string) (*StoredClient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokenHash := HashToken(token)
	for _, client := range s.clients {
		if client.TokenHash == tokenHash {
			c := *client
			return &c, nil
		}
	}

	return nil, ErrClientNotFound
}

// ListClients returns all clients, oldest first.
func (s *Store) ListClients() []ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]ClientInfo, 0, len(s.clients))
	for _, client := range s.clients {
		clients = append(clients, ClientInfo{
			ID:        client.ID,
			Name:      client.Name,
			Approved:  client.Approved,
			CreatedAt: client.CreatedAt,
		})
	}
	slices.SortFunc(clients, func(a, b ClientInfo) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	return clients
}

type storeFile struct {
	Clients []*StoredClient `json:"clients"`
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var stored storeFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("failed to parse store: %w", err)
	}

	s.clients = make(map[string]*StoredClient, len(stored.Clients))
	for _, client := range stored.Clients {
		s.clients[client.ID] = client
	}

	return nil
}

func (s *Store) saveLocked() error {
	stored := storeFile{Clients: make([]*StoredClient, 0, len(s.clients))}
	for _, client := range s.clients {
		stored.Clients = append(stored.Clients, client)
	}
	slices.SortFunc(stored.Clients, func(a, b *StoredClient) int {
		return strings.Compare(a.ID, b.ID)
	})

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}

	return nil
}
