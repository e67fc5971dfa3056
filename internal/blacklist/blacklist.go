package blacklist

import (
	"sync"

	"github.com/rs/zerolog/log"

	"pumplab/internal/storage"
)

// Kinds of banned addresses.
const (
	KindMint    = "mint"
	KindCreator = "creator"
)

// Blacklist is the process-wide set of banned mints and creators. Reads
// hit the in-memory sets; writes go through to the ledger first so a
// crash never loses a ban.
type Blacklist struct {
	mu       sync.RWMutex
	mints    map[string]struct{}
	creators map[string]struct{}
	db       *storage.DB
}

// Load builds a blacklist from the ledger.
func Load(db *storage.DB) (*Blacklist, error) {
	b := &Blacklist{
		mints:    make(map[string]struct{}),
		creators: make(map[string]struct{}),
		db:       db,
	}

	if db != nil {
		mints, err := db.LoadBlacklist(KindMint)
		if err != nil {
			return nil, err
		}
		for _, m := range mints {
			b.mints[m] = struct{}{}
		}
		creators, err := db.LoadBlacklist(KindCreator)
		if err != nil {
			return nil, err
		}
		for _, c := range creators {
			b.creators[c] = struct{}{}
		}
	}

	log.Info().
		Int("mints", len(b.mints)).
		Int("creators", len(b.creators)).
		Msg("blacklist loaded")
	return b, nil
}

// ContainsMint reports whether the mint is banned.
func (b *Blacklist) ContainsMint(mint string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.mints[mint]
	return ok
}

// ContainsCreator reports whether the creator is banned.
func (b *Blacklist) ContainsCreator(creator string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.creators[creator]
	return ok
}

// AddMint bans a mint, persisting before the in-memory set is updated.
func (b *Blacklist) AddMint(mint, reason string) error {
	if b.db != nil {
		if err := b.db.AddBlacklisted(mint, KindMint, reason); err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.mints[mint] = struct{}{}
	b.mu.Unlock()

	log.Info().Str("mint", mint).Str("reason", reason).Msg("mint blacklisted")
	return nil
}

// AddCreator bans a creator, persisting before the in-memory set.
func (b *Blacklist) AddCreator(creator, reason string) error {
	if b.db != nil {
		if err := b.db.AddBlacklisted(creator, KindCreator, reason); err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.creators[creator] = struct{}{}
	b.mu.Unlock()

	log.Info().Str("creator", creator).Str("reason", reason).Msg("creator blacklisted")
	return nil
}

// Counts returns the number of banned mints and creators.
func (b *Blacklist) Counts() (mints, creators int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.mints), len(b.creators)
}
