package collection

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/prismsearch/prism/internal/schema"
	"github.com/prismsearch/prism/internal/store"
	"github.com/prismsearch/prism/pkg/apperr"
	"github.com/prismsearch/prism/pkg/logger"
)

// collectionMeta is the serialized schema payload stored under the $CM key.
type collectionMeta struct {
	Name              string         `json:"name"`
	CollectionID      uint32         `json:"collection_id"`
	Fields            []schema.Field `json:"fields"`
	TokenRankingField string         `json:"token_ranking_field,omitempty"`
	NumShards         int            `json:"num_shards"`
}

// Manager creates, loads, and drops collections over a shared store. On
// boot it restores every persisted collection and replays its documents
// into the in-memory indices.
type Manager struct {
	mu          sync.RWMutex
	st          store.Store
	collections map[string]*Collection
	numShards   int
	log         *slog.Logger
}

// NewManager returns a Manager creating collections with numShards shards.
func NewManager(st store.Store, numShards int) *Manager {
	if numShards < 1 {
		numShards = DefaultNumShards
	}
	return &Manager{
		st:          st,
		collections: make(map[string]*Collection),
		numShards:   numShards,
		log:         logger.Component("collection-manager"),
	}
}

// Create allocates a collection id, builds the collection, and persists its
// metadata.
func (m *Manager) Create(name string, fields []schema.Field, tokenRankingField string) (*Collection, error) {
	if name == "" {
		return nil, apperr.BadRequest("Collection name cannot be empty.")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.collections[name]; exists {
		return nil, apperr.BadRequest("A collection with name `%s` already exists.", name)
	}

	collectionID, err := m.st.Increment([]byte(nextCollectionIDKey), 1)
	if err != nil {
		return nil, apperr.Corruption("Could not assign a collection id: %s", err.Error())
	}
	coll, err := New(name, collectionID, 0, m.st, fields, tokenRankingField, m.numShards)
	if err != nil {
		return nil, err
	}

	meta := collectionMeta{
		Name:              name,
		CollectionID:      collectionID,
		Fields:            fields,
		TokenRankingField: tokenRankingField,
		NumShards:         m.numShards,
	}
	payload, merr := json.Marshal(meta)
	if merr != nil {
		return nil, apperr.Corruption("Could not serialize collection metadata: %s", merr.Error())
	}
	if err := m.st.Insert(metaKey(name), payload); err != nil {
		return nil, apperr.Corruption("Could not persist collection metadata: %s", err.Error())
	}

	m.collections[name] = coll
	m.log.Info("collection created", "collection", name, "collection_id", collectionID, "fields", len(fields))
	return coll, nil
}

// Get returns the named collection.
func (m *Manager) Get(name string) (*Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[name]
	if !ok {
		return nil, apperr.NotFound("Could not find a collection with name: %s", name)
	}
	return coll, nil
}

// Names returns the loaded collection names, sorted.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load restores every persisted collection: metadata from the $CM prefix,
// the sequence counter from $CN, then a replay of the stored documents.
// The seq-id key's big-endian tail makes the replay scan arrive in
// insertion order, which keeps posting-list appends monotone.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var metas []collectionMeta
	err := m.st.Scan([]byte(collectionMetaTag+"_"), func(key []byte, value []byte) error {
		var meta collectionMeta
		if err := json.Unmarshal(value, &meta); err != nil {
			return apperr.Corruption("Could not parse metadata for collection key %q.", key)
		}
		metas = append(metas, meta)
		return nil
	})
	if err != nil {
		return err
	}

	for _, meta := range metas {
		nextSeq, err := m.readCounter(nextSeqKey(meta.Name))
		if err != nil {
			return err
		}
		coll, err := New(meta.Name, meta.CollectionID, nextSeq, m.st, meta.Fields, meta.TokenRankingField, meta.NumShards)
		if err != nil {
			return err
		}
		docs := 0
		prefix := seqIDPrefix(meta.CollectionID)
		err = m.st.Scan(prefix, func(key []byte, value []byte) error {
			seqID := deserializeSeqID(key[len(prefix):])
			if err := coll.replay(seqID, value); err != nil {
				return err
			}
			docs++
			return nil
		})
		if err != nil {
			return err
		}
		m.collections[meta.Name] = coll
		m.log.Info("collection loaded", "collection", meta.Name, "documents", docs)
	}
	return nil
}

// Drop removes the collection and every store key belonging to it.
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[name]
	if !ok {
		return apperr.NotFound("Could not find a collection with name: %s", name)
	}

	prefixes := [][]byte{
		[]byte(strconv.FormatUint(uint64(coll.ID()), 10) + "_" + docIDTag + "_"),
		seqIDPrefix(coll.ID()),
	}
	for _, prefix := range prefixes {
		var keys [][]byte
		err := m.st.Scan(prefix, func(key []byte, value []byte) error {
			keys = append(keys, append([]byte(nil), key...))
			return nil
		})
		if err != nil {
			return apperr.Corruption("Could not scan collection keys: %s", err.Error())
		}
		for _, key := range keys {
			if err := m.st.Remove(key); err != nil {
				return apperr.Corruption("Could not remove collection key: %s", err.Error())
			}
		}
	}
	if err := m.st.Remove(metaKey(name)); err != nil {
		return apperr.Corruption("Could not remove collection metadata: %s", err.Error())
	}
	if err := m.st.Remove(nextSeqKey(name)); err != nil {
		return apperr.Corruption("Could not remove collection counter: %s", err.Error())
	}

	delete(m.collections, name)
	m.log.Info("collection dropped", "collection", name)
	return nil
}

func (m *Manager) readCounter(key []byte) (uint32, error) {
	value, status, err := m.st.Get(key)
	if err != nil {
		return 0, apperr.Corruption("Could not read sequence counter: %s", err.Error())
	}
	if status == store.StatusNotFound {
		return 0, nil
	}
	parsed, perr := strconv.ParseUint(string(value), 10, 32)
	if perr != nil {
		return 0, apperr.Corruption("Sequence counter at %q is not a decimal integer.", key)
	}
	return uint32(parsed), nil
}
