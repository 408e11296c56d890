// Package pebble is a cache driver on an embedded Pebble key-value store.
//
// Key layout:
//
//	conv/<id>                              conversation JSON
//	msg/<id>                               message record JSON
//	idx/<conversation>\x00<created><seq>   message ID, ordered for range scans
//	meta/seq                               last insertion sequence
package pebble

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	pebble "github.com/cockroachdb/pebble"

	"github.com/vovakirdan/wirechat-client/internal/cache"
	"github.com/vovakirdan/wirechat-client/internal/model"
)

var (
	convPrefix = []byte("conv/")
	msgPrefix  = []byte("msg/")
	idxPrefix  = []byte("idx/")
	seqKey     = []byte("meta/seq")
)

type record struct {
	Seq     uint64        `json:"seq"`
	Message model.Message `json:"message"`
}

// Store implements cache.Store on Pebble.
type Store struct {
	path string

	// mu serializes read-modify-write cycles; Pebble itself is goroutine-safe.
	mu  sync.Mutex
	db  *pebble.DB
	seq uint64
}

// New creates a Pebble cache rooted at dir. The database is opened by Init.
func New(dir string) *Store {
	return &Store{path: dir}
}

// Init opens the database on first call.
func (s *Store) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return cache.Unavailable(fmt.Errorf("create cache directory: %w", err))
	}
	db, err := pebble.Open(s.path, &pebble.Options{})
	if err != nil {
		return cache.Unavailable(fmt.Errorf("open pebble: %w", err))
	}

	seq, err := loadSeq(db)
	if err != nil {
		_ = db.Close()
		return cache.Unavailable(err)
	}
	s.db = db
	s.seq = seq
	return nil
}

func loadSeq(db *pebble.DB) (uint64, error) {
	v, closer, err := db.Get(seqKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sequence: %w", err)
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, fmt.Errorf("read sequence: corrupt value of %d bytes", len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) ready() error {
	if s.db == nil {
		return cache.Unavailable(errors.New("pebble cache not initialized"))
	}
	return nil
}

func convKey(id string) []byte {
	return append(append([]byte{}, convPrefix...), id...)
}

func msgKey(id string) []byte {
	return append(append([]byte{}, msgPrefix...), id...)
}

func idxConvPrefix(conversationID string) []byte {
	k := append(append([]byte{}, idxPrefix...), conversationID...)
	return append(k, 0x00)
}

// idxKey sorts by creation time then insertion sequence. The sign bit is flipped
// so pre-epoch timestamps still order correctly as unsigned bytes.
func idxKey(conversationID string, createdAt time.Time, seq uint64) []byte {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(createdAt.UnixNano())^(1<<63))
	binary.BigEndian.PutUint64(buf[8:], seq)
	k := idxConvPrefix(conversationID)
	return append(k, hex.EncodeToString(buf[:])...)
}

// prefixEnd returns the smallest key greater than every key with prefix p.
func prefixEnd(p []byte) []byte {
	end := append([]byte{}, p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) scan(prefix []byte, fn func(key, value []byte) error) error {
	it, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixEnd(prefix)})
	if err != nil {
		return err
	}
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return it.Error()
}

func (s *Store) getRecord(id string) (record, bool, error) {
	v, closer, err := s.db.Get(msgKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, err
	}
	defer closer.Close()
	var rec record
	if err := json.Unmarshal(v, &rec); err != nil {
		return record{}, false, fmt.Errorf("decode message %q: %w", id, err)
	}
	return rec, true, nil
}

// ==== Conversations ====

// UpsertConversation inserts or overwrites conv.
func (s *Store) UpsertConversation(_ context.Context, conv model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	payload, err := json.Marshal(conv)
	if err != nil {
		return cache.WriteError("encode conversation", err)
	}
	if err := s.db.Set(convKey(conv.ID), payload, pebble.Sync); err != nil {
		return cache.WriteError(fmt.Sprintf("upsert conversation %q", conv.ID), err)
	}
	return nil
}

// Conversations returns all cached conversations.
func (s *Store) Conversations(_ context.Context) ([]model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	convs := make([]model.Conversation, 0)
	err := s.scan(convPrefix, func(_, value []byte) error {
		var conv model.Conversation
		if err := json.Unmarshal(value, &conv); err != nil {
			return fmt.Errorf("decode conversation: %w", err)
		}
		convs = append(convs, conv.Normalize(model.SourceCache))
		return nil
	})
	if err != nil {
		return nil, cache.ReadError("scan conversations", err)
	}
	return convs, nil
}

// ==== Messages ====

// putLocked stages msg in b. pending tracks records written earlier in the same batch.
func (s *Store) putLocked(b *pebble.Batch, msg model.Message, pending map[string]record) error {
	prev, ok := pending[msg.ID]
	if !ok {
		var err error
		prev, ok, err = s.getRecord(msg.ID)
		if err != nil {
			return err
		}
	}

	seq := prev.Seq
	if ok {
		if err := b.Delete(idxKey(prev.Message.ConversationID, prev.Message.CreatedAt, prev.Seq), nil); err != nil {
			return err
		}
	} else {
		s.seq++
		seq = s.seq
	}

	rec := record{Seq: seq, Message: msg}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode message %q: %w", msg.ID, err)
	}
	if err := b.Set(msgKey(msg.ID), payload, nil); err != nil {
		return err
	}
	if err := b.Set(idxKey(msg.ConversationID, msg.CreatedAt, seq), []byte(msg.ID), nil); err != nil {
		return err
	}
	pending[msg.ID] = rec
	return nil
}

func (s *Store) commitLocked(b *pebble.Batch, seqBefore uint64) error {
	if s.seq != seqBefore {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], s.seq)
		if err := b.Set(seqKey, buf[:], nil); err != nil {
			return err
		}
	}
	return b.Commit(pebble.Sync)
}

// UpsertMessage inserts or overwrites msg.
func (s *Store) UpsertMessage(ctx context.Context, msg model.Message) error {
	return s.UpsertMessages(ctx, []model.Message{msg})
}

// UpsertMessages writes msgs in one atomic batch.
func (s *Store) UpsertMessages(_ context.Context, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}

	seqBefore := s.seq
	b := s.db.NewBatch()
	defer b.Close()

	pending := make(map[string]record, len(msgs))
	for _, m := range msgs {
		if err := s.putLocked(b, m, pending); err != nil {
			s.seq = seqBefore
			return cache.WriteError("upsert messages", err)
		}
	}
	if err := s.commitLocked(b, seqBefore); err != nil {
		s.seq = seqBefore
		return cache.WriteError("commit messages", err)
	}
	return nil
}

func (s *Store) conversationIDsLocked(conversationID string) ([]string, error) {
	var ids []string
	err := s.scan(idxConvPrefix(conversationID), func(_, value []byte) error {
		ids = append(ids, string(value))
		return nil
	})
	return ids, err
}

// MessagesByConversation returns messages ascending by creation time, then insertion order.
func (s *Store) MessagesByConversation(_ context.Context, conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}

	ids, err := s.conversationIDsLocked(conversationID)
	if err != nil {
		return nil, cache.ReadError(fmt.Sprintf("scan index of %q", conversationID), err)
	}
	msgs := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := s.getRecord(id)
		if err != nil {
			return nil, cache.ReadError("read message", err)
		}
		if !ok {
			continue
		}
		msgs = append(msgs, rec.Message.Normalize(model.SourceCache))
	}
	return msgs, nil
}

// ReplaceConversationMessages deletes the conversation's messages and writes msgs in one batch.
func (s *Store) ReplaceConversationMessages(_ context.Context, conversationID string, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}

	ids, err := s.conversationIDsLocked(conversationID)
	if err != nil {
		return cache.WriteError(fmt.Sprintf("scan index of %q", conversationID), err)
	}

	seqBefore := s.seq
	b := s.db.NewBatch()
	defer b.Close()

	pending := make(map[string]record, len(msgs))
	if len(ids) > 0 {
		prefix := idxConvPrefix(conversationID)
		if err := b.DeleteRange(prefix, prefixEnd(prefix), nil); err != nil {
			return cache.WriteError("delete index range", err)
		}
		for _, id := range ids {
			if err := b.Delete(msgKey(id), nil); err != nil {
				return cache.WriteError("delete message", err)
			}
		}
	}
	for _, m := range msgs {
		// Fresh inserts: the old rows of this conversation are already staged for deletion.
		s.seq++
		rec := record{Seq: s.seq, Message: m}
		if prev, ok, err := s.getRecord(m.ID); err == nil && ok && prev.Message.ConversationID != conversationID {
			if err := b.Delete(idxKey(prev.Message.ConversationID, prev.Message.CreatedAt, prev.Seq), nil); err != nil {
				s.seq = seqBefore
				return cache.WriteError("delete moved message index", err)
			}
		}
		if old, ok := pending[m.ID]; ok {
			if err := b.Delete(idxKey(old.Message.ConversationID, old.Message.CreatedAt, old.Seq), nil); err != nil {
				s.seq = seqBefore
				return cache.WriteError("delete duplicate index", err)
			}
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			s.seq = seqBefore
			return cache.WriteError("encode message", err)
		}
		if err := b.Set(msgKey(m.ID), payload, nil); err != nil {
			s.seq = seqBefore
			return cache.WriteError("stage message", err)
		}
		if err := b.Set(idxKey(m.ConversationID, m.CreatedAt, rec.Seq), []byte(m.ID), nil); err != nil {
			s.seq = seqBefore
			return cache.WriteError("stage index", err)
		}
		pending[m.ID] = rec
	}
	if err := s.commitLocked(b, seqBefore); err != nil {
		s.seq = seqBefore
		return cache.WriteError("commit replace", err)
	}
	return nil
}

// ==== Maintenance ====

type indexed struct {
	conversationID string
	rec            record
}

func (s *Store) allRecordsLocked() ([]indexed, error) {
	var out []indexed
	err := s.scan(msgPrefix, func(_, value []byte) error {
		var rec record
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		out = append(out, indexed{conversationID: rec.Message.ConversationID, rec: rec})
		return nil
	})
	return out, err
}

func deleteRecord(b *pebble.Batch, rec record) error {
	if err := b.Delete(msgKey(rec.Message.ID), nil); err != nil {
		return err
	}
	return b.Delete(idxKey(rec.Message.ConversationID, rec.Message.CreatedAt, rec.Seq), nil)
}

// Prune evicts old messages, overflowing messages, then stale empty conversations.
func (s *Store) Prune(_ context.Context, policy cache.PrunePolicy) (cache.PruneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return cache.PruneResult{}, err
	}

	all, err := s.allRecordsLocked()
	if err != nil {
		return cache.PruneResult{}, cache.ReadError("scan messages", err)
	}

	b := s.db.NewBatch()
	defer b.Close()

	var res cache.PruneResult
	byConv := make(map[string][]record)
	for _, r := range all {
		if !policy.Before.IsZero() && r.rec.Message.CreatedAt.Before(policy.Before) {
			if err := deleteRecord(b, r.rec); err != nil {
				return cache.PruneResult{}, cache.WriteError("stage message eviction", err)
			}
			res.Messages++
			continue
		}
		byConv[r.conversationID] = append(byConv[r.conversationID], r.rec)
	}

	if policy.MaxMessagesPerConversation > 0 {
		for _, recs := range byConv {
			overflow := len(recs) - policy.MaxMessagesPerConversation
			if overflow <= 0 {
				continue
			}
			sort.Slice(recs, func(i, j int) bool {
				if recs[i].Message.CreatedAt.Equal(recs[j].Message.CreatedAt) {
					return recs[i].Seq < recs[j].Seq
				}
				return recs[i].Message.CreatedAt.Before(recs[j].Message.CreatedAt)
			})
			for _, rec := range recs[:overflow] {
				if err := deleteRecord(b, rec); err != nil {
					return cache.PruneResult{}, cache.WriteError("stage message eviction", err)
				}
				res.Messages++
			}
		}
	}

	if !policy.Before.IsZero() {
		err := s.scan(convPrefix, func(key, value []byte) error {
			var conv model.Conversation
			if err := json.Unmarshal(value, &conv); err != nil {
				return fmt.Errorf("decode conversation: %w", err)
			}
			if _, ok := byConv[conv.ID]; ok || !conv.UpdatedAt.Before(policy.Before) {
				return nil
			}
			res.Conversations++
			return b.Delete(bytes.Clone(key), nil)
		})
		if err != nil {
			return cache.PruneResult{}, cache.WriteError("prune conversations", err)
		}
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return cache.PruneResult{}, cache.WriteError("commit prune", err)
	}
	return res, nil
}

// Stats reports counts and the on-disk footprint.
func (s *Store) Stats(_ context.Context) (cache.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return cache.Stats{}, err
	}

	var st cache.Stats
	if err := s.scan(convPrefix, func(_, _ []byte) error { st.Conversations++; return nil }); err != nil {
		return cache.Stats{}, cache.ReadError("count conversations", err)
	}
	if err := s.scan(msgPrefix, func(_, _ []byte) error { st.Messages++; return nil }); err != nil {
		return cache.Stats{}, cache.ReadError("count messages", err)
	}
	st.SizeBytes = int64(s.db.Metrics().DiskSpaceUsage())
	return st, nil
}

// ClearAll drops every conversation and message. The sequence counter is kept.
func (s *Store) ClearAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}

	b := s.db.NewBatch()
	defer b.Close()
	var errs []error
	for _, p := range [][]byte{convPrefix, msgPrefix, idxPrefix} {
		if err := b.DeleteRange(p, prefixEnd(p), nil); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return cache.WriteError("clear cache", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return cache.WriteError("commit clear", err)
	}
	return nil
}
