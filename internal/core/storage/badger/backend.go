// Package badger is an embedded Backend on BadgerDB.
//
// Key layout:
//
//	r/<seq>            raw element record (JSON)
//	v/<vertex>\x1f<seq> index entry, one per vertex the record touches
//
// Index scans return records in insertion order per vertex, so elements
// sharing an aggregation key are not adjacent: the backend reports
// unordered locality and callers aggregate in buffered mode.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/aevon-lab/project-lattice/internal/core/element"
	coreerr "github.com/aevon-lab/project-lattice/internal/core/errors"
	"github.com/aevon-lab/project-lattice/internal/core/storage"
	"github.com/aevon-lab/project-lattice/internal/core/stream"
)

const (
	backendName    = "badger"
	recordPrefix   = "r/"
	vertexPrefix   = "v/"
	sequenceKey    = "meta/seq"
	sequenceLeases = 1000
)

// Config holds BadgerDB options.
type Config struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// InMemoryConfig returns a config for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Backend implements storage.Backend on BadgerDB.
type Backend struct {
	db  *badger.DB
	seq *badger.Sequence
}

// Open opens (or creates) the database described by cfg.
func Open(cfg Config) (*Backend, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	seq, err := db.GetSequence([]byte(sequenceKey), sequenceLeases)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open record sequence: %w", err)
	}

	slog.Info("[Badger] Backend opened", "path", cfg.Path, "in_memory", cfg.InMemory)
	return &Backend{db: db, seq: seq}, nil
}

// Locality implements storage.Backend.
func (b *Backend) Locality() storage.Locality { return storage.LocalityUnordered }

// record is the persisted form of a raw element.
type record struct {
	Kind        element.Kind    `json:"k"`
	Group       string          `json:"g"`
	Vertex      string          `json:"v,omitempty"`
	Source      string          `json:"s,omitempty"`
	Destination string          `json:"d,omitempty"`
	Directed    bool            `json:"dir,omitempty"`
	Properties  json.RawMessage `json:"p"`
}

func recordKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", recordPrefix, seq))
}

// indexPrefix escapes vertex so that no vertex's prefix is a prefix of
// another vertex's index entries.
func indexPrefix(vertex string) []byte {
	return element.AppendComponent([]byte(vertexPrefix), vertex)
}

func indexKey(vertex string, seq uint64) []byte {
	return fmt.Appendf(indexPrefix(vertex), "%016x", seq)
}

func encodeRecord(el element.Element) ([]byte, []string, error) {
	props, err := element.EncodeProperties(el.GetProperties())
	if err != nil {
		return nil, nil, err
	}
	rec := record{Kind: el.Kind(), Group: el.GetGroup(), Properties: props}
	var vertices []string
	switch e := el.(type) {
	case *element.Entity:
		rec.Vertex = e.Vertex
		vertices = []string{e.Vertex}
	case *element.Edge:
		rec.Source, rec.Destination, rec.Directed = e.Source, e.Destination, e.Directed
		vertices = []string{e.Source}
		if e.Destination != e.Source {
			vertices = append(vertices, e.Destination)
		}
	}
	data, err := json.Marshal(rec)
	return data, vertices, err
}

func decodeRecord(data []byte) (element.Element, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	props, err := element.DecodeProperties(rec.Properties)
	if err != nil {
		return nil, err
	}
	switch rec.Kind {
	case element.KindEntity:
		return element.NewEntity(rec.Group, rec.Vertex, props), nil
	case element.KindEdge:
		return &element.Edge{
			Source:      rec.Source,
			Destination: rec.Destination,
			Directed:    rec.Directed,
			Group:       rec.Group,
			Properties:  props,
		}, nil
	}
	return nil, fmt.Errorf("decode record: unknown element kind %d", rec.Kind)
}

// AddElements writes records and index entries in one write batch.
func (b *Backend) AddElements(ctx context.Context, elements []element.Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for i, el := range elements {
		data, vertices, err := encodeRecord(el)
		if err != nil {
			return coreerr.NewStoreError(backendName, "add_elements", fmt.Errorf("element %d: %w", i, err))
		}
		seq, err := b.seq.Next()
		if err != nil {
			return coreerr.NewStoreError(backendName, "add_elements", fmt.Errorf("next sequence: %w", err))
		}
		if err := wb.Set(recordKey(seq), data); err != nil {
			return coreerr.NewStoreError(backendName, "add_elements", err)
		}
		for _, v := range vertices {
			if err := wb.Set(indexKey(v, seq), nil); err != nil {
				return coreerr.NewStoreError(backendName, "add_elements", err)
			}
		}
	}

	if err := wb.Flush(); err != nil {
		return coreerr.NewStoreError(backendName, "add_elements", fmt.Errorf("flush: %w", err))
	}

	slog.Debug("[Badger] Added elements", "count", len(elements))
	return nil
}

// GetElementsRelatedTo scans the vertex index for every seed vertex, then
// fetches records lazily. The read transaction stays open until the iterator
// is closed.
func (b *Backend) GetElementsRelatedTo(ctx context.Context, seeds []element.Seed, opts storage.RelatedOptions) (stream.Iterator[element.Element], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	principal, _ := storage.PrincipalFrom(ctx)
	slog.Debug("[Badger] Reading related elements", "seeds", len(seeds), "principal", principal.ID)

	set := storage.NewSeedSet(seeds)
	txn := b.db.NewTransaction(false)

	keys, err := scanIndex(txn, set.EntityVertices())
	if err != nil {
		txn.Discard()
		return nil, coreerr.NewStoreError(backendName, "get_elements_related_to", err)
	}

	pos := 0
	next := func() (element.Element, bool, error) {
		for pos < len(keys) {
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
			key := keys[pos]
			pos++

			item, err := txn.Get(key)
			if err != nil {
				return nil, false, coreerr.NewStoreError(backendName, "get_elements_related_to", fmt.Errorf("get %s: %w", key, err))
			}
			var el element.Element
			err = item.Value(func(val []byte) error {
				var decErr error
				el, decErr = decodeRecord(val)
				return decErr
			})
			if err != nil {
				return nil, false, coreerr.NewStoreError(backendName, "get_elements_related_to", err)
			}
			if matched, ok := set.Match(el, opts); ok {
				return matched, true, nil
			}
		}
		return nil, false, nil
	}

	return stream.Func(next, func() error {
		txn.Discard()
		return nil
	}), nil
}

// scanIndex returns the record keys referenced by the index entries of the
// given vertices, deduplicated so each raw record is read once.
func scanIndex(txn *badger.Txn, vertices []string) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	seen := make(map[string]struct{})
	var keys [][]byte
	for _, v := range vertices {
		prefix := indexPrefix(v)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			seq := string(it.Item().Key()[len(prefix):])
			if _, dup := seen[seq]; dup {
				continue
			}
			seen[seq] = struct{}{}
			keys = append(keys, []byte(recordPrefix+seq))
		}
	}
	return keys, nil
}

// Close releases the sequence lease and closes the database.
func (b *Backend) Close() error {
	var firstErr error
	if err := b.seq.Release(); err != nil {
		firstErr = fmt.Errorf("release sequence: %w", err)
	}
	if err := b.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close badger database: %w", err)
	}
	if firstErr == nil {
		slog.Info("[Badger] Backend closed")
	}
	return firstErr
}

var _ storage.Backend = (*Backend)(nil)
