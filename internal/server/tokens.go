package server

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrTokenNotFound is returned when deleting an unknown token id.
var ErrTokenNotFound = errors.New("token not found")

// FileTokenStore is a JSON-file-based token store. Only token hashes are
// persisted.
type FileTokenStore struct {
	path   string
	mu     sync.RWMutex
	tokens map[string]*TokenInfo // keyed by token_hash
	logger *slog.Logger
}

// NewFileTokenStore creates a store backed by path. Call Load to read
// existing tokens.
func NewFileTokenStore(path string, logger *slog.Logger) *FileTokenStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileTokenStore{
		path:   path,
		tokens: make(map[string]*TokenInfo),
		logger: logger,
	}
}

// Load reads the token file. A missing file leaves the store empty.
func (s *FileTokenStore) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	var tokens []*TokenInfo
	if err := json.Unmarshal(data, &tokens); err != nil {
		return fmt.Errorf("parse token store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = make(map[string]*TokenInfo)
	for _, t := range tokens {
		s.tokens[t.TokenHash] = t
	}

	s.logger.Debug("loaded tokens", "count", len(tokens))
	return nil
}

func (s *FileTokenStore) GetByHash(hash string) (*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.tokens[hash]
	if !ok {
		return nil, nil
	}
	return info, nil
}

func (s *FileTokenStore) UpdateLastUsed(_ string) error {
	return nil
}

func (s *FileTokenStore) save() error {
	tokens, _ := s.ListTokens()

	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tokens: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create token directory: %w", err)
		}
	}
	return os.WriteFile(s.path, data, 0600)
}

// CreateToken mints a token acting as principal. The raw token is returned
// once and never stored.
func (s *FileTokenStore) CreateToken(desc, principal, permission string) (string, *TokenInfo, error) {
	secret, err := randomHex(24)
	if err != nil {
		return "", nil, err
	}
	rawToken := "lst_" + secret
	tokenHash := HashToken(rawToken)

	info := &TokenInfo{
		ID:         uuid.New().String(),
		TokenHash:  tokenHash,
		Principal:  principal,
		Desc:       desc,
		Permission: permission,
	}

	s.mu.Lock()
	s.tokens[tokenHash] = info
	s.mu.Unlock()

	if err := s.save(); err != nil {
		return "", nil, fmt.Errorf("persist token: %w", err)
	}

	return rawToken, info, nil
}

// ListTokens returns every token ordered by id.
func (s *FileTokenStore) ListTokens() ([]*TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := make([]*TokenInfo, 0, len(s.tokens))
	for _, t := range s.tokens {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].ID < tokens[j].ID })
	return tokens, nil
}

func (s *FileTokenStore) DeleteToken(id string) error {
	s.mu.Lock()
	found := false
	for hash, t := range s.tokens {
		if t.ID == id {
			delete(s.tokens, hash)
			found = true
			break
		}
	}
	s.mu.Unlock()

	if !found {
		return fmt.Errorf("token '%s': %w", id, ErrTokenNotFound)
	}

	return s.save()
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
