package repository

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization
const (
	prefixNode          = byte(0x01) // node:id -> JSON(NodeRecord)
	prefixEdge          = byte(0x02) // edge:id -> JSON(EdgeRecord)
	prefixLabelIndex    = byte(0x03) // label:name:0x00:nodeID -> empty
	prefixOutgoingIndex = byte(0x04) // outgoing:nodeID:edgeID -> empty
	prefixIncomingIndex = byte(0x05) // incoming:nodeID:edgeID -> empty
	prefixSequence      = byte(0x06) // sequence:kind -> badger.Sequence state
)

// sequenceBandwidth is the number of ids leased per badger.Sequence refill.
const sequenceBandwidth = 128

// BadgerRepository stores the graph in BadgerDB.
//
// Key Structure:
//   - Nodes: 0x01 + be64(nodeID) -> JSON(NodeRecord)
//   - Edges: 0x02 + be64(edgeID) -> JSON(EdgeRecord)
//   - Label Index: 0x03 + label + 0x00 + be64(nodeID) -> empty
//   - Outgoing Index: 0x04 + be64(nodeID) + be64(edgeID) -> empty
//   - Incoming Index: 0x05 + be64(nodeID) + be64(edgeID) -> empty
//
// Big-endian ids keep every prefix scan in ascending id order.
type BadgerRepository struct {
	db      *badger.DB
	nodeSeq *badger.Sequence
	edgeSeq *badger.Sequence
	mu      sync.RWMutex
	closed  bool
}

var _ Repository = (*BadgerRepository)(nil)
var _ Scanner = (*BadgerRepository)(nil)

// BadgerOptions configures the BadgerDB repository.
type BadgerOptions struct {
	// DataDir is the directory for storing data files. Ignored when
	// InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Logger receives BadgerDB internal logging. Nil silences it.
	Logger *slog.Logger

	// LowMemory shrinks memtables and caches.
	LowMemory bool
}

// NewBadgerRepository opens (or creates) a BadgerDB-backed repository.
func NewBadgerRepository(opts BadgerOptions) (*BadgerRepository, error) {
	dir := opts.DataDir
	if opts.InMemory {
		dir = ""
	}
	badgerOpts := badger.DefaultOptions(dir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{log: opts.Logger.With("component", "badger")})
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	if opts.LowMemory {
		badgerOpts = badgerOpts.
			WithMemTableSize(16 << 20).
			WithValueLogFileSize(64 << 20).
			WithNumMemtables(2).
			WithNumLevelZeroTables(2).
			WithNumLevelZeroTablesStall(4).
			WithBlockCacheSize(32 << 20).
			WithIndexCacheSize(16 << 20)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	nodeSeq, err := db.GetSequence([]byte{prefixSequence, 'n'}, sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open node sequence: %w", err)
	}
	edgeSeq, err := db.GetSequence([]byte{prefixSequence, 'e'}, sequenceBandwidth)
	if err != nil {
		nodeSeq.Release()
		db.Close()
		return nil, fmt.Errorf("failed to open edge sequence: %w", err)
	}

	return &BadgerRepository{db: db, nodeSeq: nodeSeq, edgeSeq: edgeSeq}, nil
}

// NewBadgerRepositoryInMemory creates an in-memory repository for tests.
func NewBadgerRepositoryInMemory() (*BadgerRepository, error) {
	return NewBadgerRepository(BadgerOptions{InMemory: true})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func be64(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func nodeKey(id uint64) []byte {
	return append([]byte{prefixNode}, be64(id)...)
}

func edgeKey(id uint64) []byte {
	return append([]byte{prefixEdge}, be64(id)...)
}

func labelIndexPrefix(label string) []byte {
	key := make([]byte, 0, 1+len(label)+1)
	key = append(key, prefixLabelIndex)
	key = append(key, label...)
	return append(key, 0x00)
}

func labelIndexKey(label string, nodeID uint64) []byte {
	return append(labelIndexPrefix(label), be64(nodeID)...)
}

func adjacencyPrefix(prefix byte, nodeID uint64) []byte {
	return append([]byte{prefix}, be64(nodeID)...)
}

func adjacencyKey(prefix byte, nodeID, edgeID uint64) []byte {
	return append(adjacencyPrefix(prefix, nodeID), be64(edgeID)...)
}

// trailingID reads the big-endian id that ends every index key.
func trailingID(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

// ============================================================================
// Serialization helpers
// ============================================================================

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

func decodeNode(data []byte) (*NodeRecord, error) {
	var n NodeRecord
	if err := decodeJSON(data, &n); err != nil {
		return nil, err
	}
	n.Properties = normalizeProperties(n.Properties)
	return &n, nil
}

func decodeEdge(data []byte) (*EdgeRecord, error) {
	var e EdgeRecord
	if err := decodeJSON(data, &e); err != nil {
		return nil, err
	}
	e.Properties = normalizeProperties(e.Properties)
	return &e, nil
}

func (b *BadgerRepository) checkOpen() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrStorageClosed
	}
	return nil
}

func getNode(txn *badger.Txn, id uint64) (*NodeRecord, error) {
	item, err := txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("node %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var node *NodeRecord
	err = item.Value(func(val []byte) error {
		var decodeErr error
		node, decodeErr = decodeNode(val)
		return decodeErr
	})
	if err != nil {
		return nil, fmt.Errorf("node %d: %w: %v", id, ErrInvalidData, err)
	}
	return node, nil
}

func getEdge(txn *badger.Txn, id uint64) (*EdgeRecord, error) {
	item, err := txn.Get(edgeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("edge %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var edge *EdgeRecord
	err = item.Value(func(val []byte) error {
		var decodeErr error
		edge, decodeErr = decodeEdge(val)
		return decodeErr
	})
	if err != nil {
		return nil, fmt.Errorf("edge %d: %w: %v", id, ErrInvalidData, err)
	}
	return edge, nil
}

// scanKeys calls fn with every key under prefix, values not prefetched.
func scanKeys(txn *badger.Txn, prefix []byte, fn func(key []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item().Key()); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// Reads
// ============================================================================

// FetchNodeIDsWithLabels implements Repository.
func (b *BadgerRepository) FetchNodeIDsWithLabels(ctx context.Context, labels []string) ([]uint64, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var ids []uint64
	err := b.db.View(func(txn *badger.Txn) error {
		if len(labels) == 0 {
			return scanKeys(txn, []byte{prefixNode}, func(key []byte) error {
				ids = append(ids, trailingID(key))
				return ctx.Err()
			})
		}
		return scanKeys(txn, labelIndexPrefix(labels[0]), func(key []byte) error {
			id := trailingID(key)
			for _, l := range labels[1:] {
				_, err := txn.Get(labelIndexKey(l, id))
				if errors.Is(err, badger.ErrKeyNotFound) {
					return nil
				}
				if err != nil {
					return err
				}
			}
			ids = append(ids, id)
			return ctx.Err()
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FetchNode implements Repository.
func (b *BadgerRepository) FetchNode(_ context.Context, id uint64) (*NodeRecord, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var node *NodeRecord
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		node, err = getNode(txn, id)
		return err
	})
	return node, err
}

// FetchOutEdges implements Repository.
func (b *BadgerRepository) FetchOutEdges(ctx context.Context, id uint64) ([]*EdgeRecord, error) {
	return b.fetchEdges(ctx, prefixOutgoingIndex, id)
}

// FetchInEdges implements Repository.
func (b *BadgerRepository) FetchInEdges(ctx context.Context, id uint64) ([]*EdgeRecord, error) {
	return b.fetchEdges(ctx, prefixIncomingIndex, id)
}

func (b *BadgerRepository) fetchEdges(ctx context.Context, prefix byte, id uint64) ([]*EdgeRecord, error) {
	if err := b.checkOpen(); err != nil {
		return nil, err
	}

	var edges []*EdgeRecord
	err := b.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("node %d: %w", id, ErrNotFound)
			}
			return err
		}
		return scanKeys(txn, adjacencyPrefix(prefix, id), func(key []byte) error {
			edge, err := getEdge(txn, trailingID(key))
			if err != nil {
				return err
			}
			edges = append(edges, edge)
			return ctx.Err()
		})
	})
	if err != nil {
		return nil, err
	}
	return edges, nil
}

// ============================================================================
// Writes
// ============================================================================

// CreateNode implements Repository.
func (b *BadgerRepository) CreateNode(_ context.Context, labels []string, props map[string]any) (uint64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	for _, l := range labels {
		if l == "" || bytes.IndexByte([]byte(l), 0x00) >= 0 {
			return 0, fmt.Errorf("label %q: %w", l, ErrInvalidData)
		}
	}

	id, err := b.nodeSeq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate node id: %w", err)
	}

	data, err := json.Marshal(&NodeRecord{ID: id, Labels: slices.Clone(labels), Properties: normalizeProperties(props)})
	if err != nil {
		return 0, fmt.Errorf("failed to encode node: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		key := nodeKey(id)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("node %d: %w", id, ErrAlreadyExists)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		for _, label := range labels {
			if err := txn.Set(labelIndexKey(label, id), []byte{}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CreateRelationship implements Repository. Both endpoints must exist.
func (b *BadgerRepository) CreateRelationship(_ context.Context, source, target uint64, typ string, props map[string]any) (uint64, error) {
	if typ == "" {
		return 0, fmt.Errorf("relationship type: %w", ErrInvalidData)
	}
	if err := b.checkOpen(); err != nil {
		return 0, err
	}

	id, err := b.edgeSeq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate edge id: %w", err)
	}

	data, err := json.Marshal(&EdgeRecord{
		ID:         id,
		Source:     source,
		Target:     target,
		Type:       typ,
		Properties: normalizeProperties(props),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to encode edge: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		for _, endpoint := range []uint64{source, target} {
			if _, err := txn.Get(nodeKey(endpoint)); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("node %d: %w", endpoint, ErrNotFound)
				}
				return err
			}
		}
		if err := txn.Set(edgeKey(id), data); err != nil {
			return err
		}
		if err := txn.Set(adjacencyKey(prefixOutgoingIndex, source, id), []byte{}); err != nil {
			return err
		}
		return txn.Set(adjacencyKey(prefixIncomingIndex, target, id), []byte{})
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ============================================================================
// Counting and scans
// ============================================================================

// NodeCount implements Repository.
func (b *BadgerRepository) NodeCount(context.Context) (int64, error) {
	return b.count(prefixNode)
}

// RelationshipCount implements Repository.
func (b *BadgerRepository) RelationshipCount(context.Context) (int64, error) {
	return b.count(prefixEdge)
}

func (b *BadgerRepository) count(prefix byte) (int64, error) {
	if err := b.checkOpen(); err != nil {
		return 0, err
	}
	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		return scanKeys(txn, []byte{prefix}, func([]byte) error {
			count++
			return nil
		})
	})
	return count, err
}

// ScanNodes implements Scanner, ascending by id.
func (b *BadgerRepository) ScanNodes(ctx context.Context, fn func(*NodeRecord) error) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.View(func(txn *badger.Txn) error {
		return scanKeys(txn, []byte{prefixNode}, func(key []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			node, err := getNode(txn, trailingID(key))
			if err != nil {
				return err
			}
			return fn(node)
		})
	})
}

// ScanEdges implements Scanner, ascending by id.
func (b *BadgerRepository) ScanEdges(ctx context.Context, fn func(*EdgeRecord) error) error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.View(func(txn *badger.Txn) error {
		return scanKeys(txn, []byte{prefixEdge}, func(key []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			edge, err := getEdge(txn, trailingID(key))
			if err != nil {
				return err
			}
			return fn(edge)
		})
	})
}

// ============================================================================
// Lifecycle
// ============================================================================

// Sync forces a sync of all data to disk.
func (b *BadgerRepository) Sync() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	return b.db.Sync()
}

// RunGC runs garbage collection on the BadgerDB value log.
func (b *BadgerRepository) RunGC() error {
	if err := b.checkOpen(); err != nil {
		return err
	}
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return nil
	}
	return err
}

// Close releases id leases and closes the database. Safe to call twice.
func (b *BadgerRepository) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	return errors.Join(b.nodeSeq.Release(), b.edgeSeq.Release(), b.db.Close())
}

// badgerLogger routes BadgerDB's printf-style logging through slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Info(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}
