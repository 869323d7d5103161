// Package collection implements the typed document collection: schema
// validation, ingestion into the sharded in-memory index, ranked
// typo-tolerant search with facets and highlights, and the key layout of
// the persistent store.
package collection

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"

	"github.com/prismsearch/prism/internal/index"
	"github.com/prismsearch/prism/internal/schema"
	"github.com/prismsearch/prism/internal/store"
	"github.com/prismsearch/prism/pkg/apperr"
	"github.com/prismsearch/prism/pkg/logger"
)

// DefaultNumShards is the shard count for new collections. It is fixed for
// a collection's lifetime; changing it would force a full reindex.
const DefaultNumShards = 4

// Collection owns a schema, a fixed set of index shards, the sequence-id
// counter, and the store keys of its documents.
type Collection struct {
	name              string
	collectionID      uint32
	sch               *schema.Schema
	tokenRankingField string

	st      store.Store
	counter *seqCounter
	shards  []*index.Shard

	// mu serializes ingestion and deletion; searches only take shard
	// read locks.
	mu           sync.Mutex
	numDocuments int

	log *slog.Logger
}

// New assembles a collection over the given store. nextSeqID seeds the
// sequence counter (zero for a fresh collection).
func New(name string, collectionID uint32, nextSeqID uint32, st store.Store,
	fields []schema.Field, tokenRankingField string, numShards int) (*Collection, error) {

	sch, err := schema.New(fields)
	if err != nil {
		return nil, apperr.BadRequest("%s", err.Error())
	}
	if tokenRankingField != "" {
		f, ok := sch.Search[tokenRankingField]
		if !ok {
			return nil, apperr.BadRequest("Token ranking field `%s` is not declared in the schema.", tokenRankingField)
		}
		if !f.IsSortable() {
			return nil, apperr.BadRequest("Token ranking field `%s` must be a single-valued numeric field.", tokenRankingField)
		}
	}
	if numShards < 1 {
		numShards = DefaultNumShards
	}
	shards := make([]*index.Shard, numShards)
	for i := range shards {
		shards[i] = index.NewShard(sch)
	}
	return &Collection{
		name:              name,
		collectionID:      collectionID,
		sch:               sch,
		tokenRankingField: tokenRankingField,
		st:                st,
		counter:           newSeqCounter(st, name, nextSeqID),
		shards:            shards,
		log:               logger.ForCollection("collection", name),
	}, nil
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// ID returns the numeric collection id used in store keys.
func (c *Collection) ID() uint32 {
	return c.collectionID
}

// Schema returns the collection's declared fields in order.
func (c *Collection) Schema() []schema.Field {
	return c.sch.Fields
}

// TokenRankingField returns the configured ranking field name, if any.
func (c *Collection) TokenRankingField() string {
	return c.tokenRankingField
}

// NumDocuments returns the number of live documents.
func (c *Collection) NumDocuments() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.numDocuments
}

// NumShards returns the shard count.
func (c *Collection) NumShards() int {
	return len(c.shards)
}

// ShardDocCounts returns per-shard document counts, for gauges.
func (c *Collection) ShardDocCounts() []int {
	counts := make([]int, len(c.shards))
	for i, shard := range c.shards {
		counts[i] = shard.NumDocuments()
	}
	return counts
}

// Add parses, validates, indexes, and persists one document, returning the
// caller-visible id. A missing `id` field is synthesized from the assigned
// sequence id. If the store writes fail after indexing, the in-memory
// insert is rolled back so no partial state remains.
func (c *Collection) Add(jsonStr string) (string, error) {
	doc, err := parseDocument([]byte(jsonStr))
	if err != nil {
		return "", apperr.BadRequest("Bad JSON.")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	seqID, err := c.counter.Next()
	if err != nil {
		return "", apperr.Corruption("Could not assign a sequence id: %s", err.Error())
	}
	seqIDStr := strconv.FormatUint(uint64(seqID), 10)

	if _, present := doc["id"]; !present {
		doc["id"] = seqIDStr
	}
	docID, ok := doc["id"].(string)
	if !ok {
		return "", apperr.BadRequest("Document's `id` field should be a string.")
	}

	if err := c.indexInMemory(doc, seqID); err != nil {
		return "", err
	}

	raw, merr := json.Marshal(doc)
	if merr != nil {
		c.rollback(seqID, doc)
		return "", apperr.Corruption("Could not serialize document: %s", merr.Error())
	}
	if err := c.st.Insert(docIDKey(c.collectionID, docID), []byte(seqIDStr)); err != nil {
		c.rollback(seqID, doc)
		return "", apperr.Corruption("Could not persist document id mapping: %s", err.Error())
	}
	if err := c.st.Insert(seqIDKey(c.collectionID, seqID), raw); err != nil {
		c.st.Remove(docIDKey(c.collectionID, docID))
		c.rollback(seqID, doc)
		return "", apperr.Corruption("Could not persist document: %s", err.Error())
	}

	c.log.Debug("document added", "id", docID, "seq_id", seqID)
	return docID, nil
}

// rollback undoes an in-memory insert after a failed store write.
func (c *Collection) rollback(seqID uint32, doc map[string]any) {
	c.shards[seqID%uint32(len(c.shards))].Remove(seqID, doc)
	c.numDocuments--
}

// indexInMemory validates the document, derives the ranking points, and
// inserts into the owning shard (seq_id mod shard count).
func (c *Collection) indexInMemory(doc map[string]any, seqID uint32) error {
	if err := c.validateDocument(doc); err != nil {
		return err
	}
	points := c.computePoints(doc)
	c.shards[seqID%uint32(len(c.shards))].Index(doc, seqID, points)
	c.numDocuments++
	return nil
}

// Get returns the stored document for the caller-visible id.
func (c *Collection) Get(id string) (map[string]any, error) {
	seqID, err := c.seqIDOf(id)
	if err != nil {
		return nil, err
	}
	return c.fetchDocument(seqID)
}

// Remove deletes the document from every shard and, when removeFromStore
// is set, evicts its keys from the store.
func (c *Collection) Remove(id string, removeFromStore bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	seqID, err := c.seqIDOf(id)
	if err != nil {
		return err
	}
	doc, err := c.fetchDocument(seqID)
	if err != nil {
		return err
	}
	for _, shard := range c.shards {
		shard.Remove(seqID, doc)
	}
	if removeFromStore {
		if err := c.st.Remove(docIDKey(c.collectionID, id)); err != nil {
			return apperr.Corruption("Could not remove document id mapping: %s", err.Error())
		}
		if err := c.st.Remove(seqIDKey(c.collectionID, seqID)); err != nil {
			return apperr.Corruption("Could not remove document: %s", err.Error())
		}
	}
	c.numDocuments--
	c.log.Debug("document removed", "id", id, "seq_id", seqID)
	return nil
}

// seqIDOf resolves a caller-visible id to its sequence id via the store.
func (c *Collection) seqIDOf(id string) (uint32, error) {
	value, status, err := c.st.Get(docIDKey(c.collectionID, id))
	if err != nil {
		return 0, apperr.Corruption("Could not read document id mapping: %s", err.Error())
	}
	if status == store.StatusNotFound {
		return 0, apperr.NotFound("Could not find a document with id: %s", id)
	}
	seqID, perr := strconv.ParseUint(string(value), 10, 32)
	if perr != nil {
		return 0, apperr.Corruption("Stored sequence id for document %s is malformed.", id)
	}
	return uint32(seqID), nil
}

// fetchDocument loads and parses the raw JSON stored under seqID.
func (c *Collection) fetchDocument(seqID uint32) (map[string]any, error) {
	value, status, err := c.st.Get(seqIDKey(c.collectionID, seqID))
	if err != nil || status == store.StatusNotFound {
		return nil, apperr.Corruption("Error while fetching stored document.")
	}
	doc, perr := parseDocument(value)
	if perr != nil {
		return nil, apperr.Corruption("Error while parsing stored document.")
	}
	return doc, nil
}

// replay re-indexes one stored document during boot. The caller supplies
// keys scanned in seq-id order, so posting-list appends stay monotone.
func (c *Collection) replay(seqID uint32, raw []byte) error {
	doc, err := parseDocument(raw)
	if err != nil {
		return apperr.Corruption("Error while parsing stored document.")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexInMemory(doc, seqID)
}

// parseDocument decodes a JSON object keeping numbers as json.Number, so
// integer fields survive untruncated.
func parseDocument(raw []byte) (map[string]any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var doc map[string]any
	if err := decoder.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
