package blockchain

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
)

// CachedKeyManager provides an auto-generated throwaway wallet for runs
// without a configured key (paper sessions, smoke tests).
type CachedKeyManager struct {
	keyPath      string
	refreshEvery time.Duration

	mu          sync.RWMutex
	privateKey  []byte
	publicKey   ed25519.PublicKey
	address     string
	lastRefresh time.Time
}

type cachedKeyData struct {
	PrivateKey  string    `json:"private_key"`
	Address     string    `json:"address"`
	GeneratedAt time.Time `json:"generated_at"`
}

// NewCachedKeyManager creates a key manager that rotates keys after
// refreshEvery.
func NewCachedKeyManager(cacheDir string, refreshEvery time.Duration) *CachedKeyManager {
	return &CachedKeyManager{
		keyPath:      filepath.Join(cacheDir, "wallet_cache.json"),
		refreshEvery: refreshEvery,
	}
}

// GetOrGenerate returns the cached key or generates a new one.
func (m *CachedKeyManager) GetOrGenerate() (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loadFromCache() {
		log.Info().
			Str("address", m.address).
			Time("generatedAt", m.lastRefresh).
			Msg("loaded wallet from cache")
		return m.wallet(), nil
	}

	if err := m.generate(); err != nil {
		return nil, err
	}
	if err := m.save(); err != nil {
		log.Warn().Err(err).Msg("failed to cache wallet key")
	}

	log.Info().Str("address", m.address).Msg("generated new wallet")
	return m.wallet(), nil
}

func (m *CachedKeyManager) loadFromCache() bool {
	data, err := os.ReadFile(m.keyPath)
	if err != nil {
		return false
	}

	var cached cachedKeyData
	if err := json.Unmarshal(data, &cached); err != nil {
		return false
	}
	if time.Since(cached.GeneratedAt) > m.refreshEvery {
		return false
	}

	m.privateKey, err = base58.Decode(cached.PrivateKey)
	if err != nil || len(m.privateKey) < 64 {
		return false
	}
	m.address = cached.Address
	m.lastRefresh = cached.GeneratedAt
	m.publicKey = ed25519.PublicKey(m.privateKey[32:64])
	return true
}

func (m *CachedKeyManager) save() error {
	if err := os.MkdirAll(filepath.Dir(m.keyPath), 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cachedKeyData{
		PrivateKey:  base58.Encode(m.privateKey),
		Address:     m.address,
		GeneratedAt: m.lastRefresh,
	}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.keyPath, data, 0600)
}

func (m *CachedKeyManager) generate() error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	m.publicKey = pub
	m.privateKey = priv
	m.address = base58.Encode(pub)
	m.lastRefresh = time.Now()
	return nil
}

func (m *CachedKeyManager) wallet() *Wallet {
	return &Wallet{
		privateKey: m.privateKey,
		publicKey:  m.publicKey,
		address:    m.address,
	}
}
