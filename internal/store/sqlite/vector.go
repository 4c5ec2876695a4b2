// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/sigil-dev/recall/internal/store"
	"github.com/sigil-dev/recall/internal/tag"
	recallerr "github.com/sigil-dev/recall/pkg/errors"
)

// Compile-time interface check.
var _ store.Backend = (*Backend)(nil)

// pageSize bounds how many rows an enumeration holds at once.
const pageSize = 256

// Config locates the database file.
type Config struct {
	// Path of the database file; empty keeps everything in memory.
	Path string
}

// Backend implements store.Backend on SQLite with a sqlite-vec index.
// Embeddings live in the vec0 table "embeddings"; every row of "records"
// references exactly one of them through embedding_id.
type Backend struct {
	db         *sql.DB
	dimensions int

	mu   sync.RWMutex
	opts store.Options
}

// New opens (or creates) the database and its tables. opts.EmbeddingLength
// fixes the width of the vector index and is required.
func New(ctx context.Context, cfg Config, opts store.Options) (*Backend, error) {
	if opts.EmbeddingLength <= 0 {
		return nil, recallerr.New(recallerr.CodeStoreConfigMissing, "sqlite backend requires an embedding length",
			recallerr.FieldBackend(BackendSQLite),
			recallerr.Field("setting", "storage.embedding_length"))
	}

	db, err := openDB(ctx, cfg.Path)
	if err != nil {
		return nil, recallerr.Wrap(err, recallerr.CodeStoreDatabaseFailure, "opening vector database",
			recallerr.Field("path", cfg.Path))
	}
	if err := migrate(ctx, db, opts.EmbeddingLength); err != nil {
		_ = db.Close()
		return nil, recallerr.Wrap(err, recallerr.CodeStoreDatabaseFailure, "migrating vector tables")
	}

	return &Backend{db: db, dimensions: opts.EmbeddingLength, opts: opts.WithDefaults()}, nil
}

func (b *Backend) Prefix() store.Prefix {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.opts.Prefix
}

func (b *Backend) UseCollection(name string) error {
	if err := store.CheckPart("collection", name); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts.Prefix = b.opts.Prefix.WithCollection(name)
	return nil
}

func (b *Backend) normalizer() *tag.Normalizer {
	return b.opts.Normalizer
}

func dbErr(err error, msg string, fields ...recallerr.Attr) error {
	return recallerr.Wrap(err, recallerr.CodeStoreDatabaseFailure, msg, fields...)
}

// inTx runs fn in one transaction. Any error, or a panic, rolls back.
func (b *Backend) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return dbErr(err, "committing transaction")
	}
	return nil
}

// Set stores rec under key, replacing any previous record and its
// embedding row in the same transaction.
func (b *Backend) Set(ctx context.Context, key string, rec *store.Record) error {
	if len(rec.Embedding) != b.dimensions {
		return recallerr.New(recallerr.CodeStoreInvalidInput, "embedding length does not match index width",
			recallerr.FieldKey(key),
			recallerr.Field("embedding_length", len(rec.Embedding)),
			recallerr.Field("index_width", b.dimensions))
	}
	rec = store.Prepare(rec, b.normalizer())

	blob, err := sqlite_vec.SerializeFloat32(rec.Embedding)
	if err != nil {
		return recallerr.Wrap(err, recallerr.CodeStoreRecordEncodeFailure, "serializing embedding", recallerr.FieldKey(key))
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return recallerr.Wrap(err, recallerr.CodeStoreRecordEncodeFailure, "encoding tags", recallerr.FieldKey(key))
	}
	physical := b.Prefix().Key(key)

	return b.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := deleteKeys(ctx, tx, []string{physical}); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `INSERT INTO embeddings(embedding) VALUES (?)`, blob)
		if err != nil {
			return dbErr(err, "inserting embedding", recallerr.FieldKey(key))
		}
		embeddingID, err := res.LastInsertId()
		if err != nil {
			return dbErr(err, "reading embedding rowid", recallerr.FieldKey(key))
		}

		const q = `INSERT INTO records(key, text, norm, source, tags, embedding_id) VALUES (?, ?, ?, ?, ?, ?)`
		if _, err := tx.ExecContext(ctx, q, physical, rec.Text, rec.Norm, nullString(rec.Source), string(tagsJSON), embeddingID); err != nil {
			return dbErr(err, "inserting record", recallerr.FieldKey(key))
		}
		return nil
	})
}

// deleteKeys removes records by physical key together with their
// embedding rows and returns how many records were removed.
func deleteKeys(ctx context.Context, tx *sql.Tx, keys []string) (int, error) {
	deleted := 0
	for _, key := range keys {
		var embeddingID int64
		err := tx.QueryRowContext(ctx, `SELECT embedding_id FROM records WHERE key = ?`, key).Scan(&embeddingID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return deleted, dbErr(err, "resolving embedding row", recallerr.FieldKey(key))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM embeddings WHERE rowid = ?`, embeddingID); err != nil {
			return deleted, dbErr(err, "deleting embedding", recallerr.FieldKey(key))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, key); err != nil {
			return deleted, dbErr(err, "deleting record", recallerr.FieldKey(key))
		}
		deleted++
	}
	return deleted, nil
}

const selectRecord = `SELECT r.rowid, r.key, r.text, r.norm, r.source, r.tags, e.embedding
FROM records r
JOIN embeddings e ON e.rowid = r.embedding_id`

type scanner interface {
	Scan(dest ...any) error
}

// scanRecord decodes one row of selectRecord (plus any extra columns).
func scanRecord(s scanner, extra ...any) (rowID int64, physical string, rec *store.Record, err error) {
	var (
		source   sql.NullString
		tagsJSON string
		blob     []byte
	)
	rec = &store.Record{}
	dest := append([]any{&rowID, &physical, &rec.Text, &rec.Norm, &source, &tagsJSON, &blob}, extra...)
	if err := s.Scan(dest...); err != nil {
		return 0, "", nil, err
	}
	rec.Source = source.String
	if err := json.Unmarshal([]byte(tagsJSON), &rec.Tags); err != nil {
		return 0, "", nil, recallerr.Wrap(err, recallerr.CodeStoreRecordDecodeFailure, "decoding tags", recallerr.FieldKey(physical))
	}
	if len(rec.Tags) == 0 {
		rec.Tags = nil
	}
	rec.Embedding, err = decodeFloat32s(blob)
	if err != nil {
		return 0, "", nil, recallerr.With(err, recallerr.FieldKey(physical))
	}
	return rowID, physical, rec, nil
}

func (b *Backend) Get(ctx context.Context, key string) (*store.Record, bool, error) {
	row := b.db.QueryRowContext(ctx, selectRecord+` WHERE r.key = ?`, b.Prefix().Key(key))
	_, _, rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, dbErr(err, "getting record", recallerr.FieldKey(key))
	}
	rec.Key = key
	return rec, true, nil
}

func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM records WHERE key = ?`, b.Prefix().Key(key)).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, dbErr(err, "checking record", recallerr.FieldKey(key))
	}
	return true, nil
}

func (b *Backend) Delete(ctx context.Context, key string) (bool, error) {
	var n int
	err := b.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = deleteKeys(ctx, tx, []string{b.Prefix().Key(key)})
		return err
	})
	return n > 0, err
}

// prefixClause matches keys of the given column against one bound prefix.
func prefixClause(col string) string {
	return `substr(` + col + `, 1, length(?1)) = ?1`
}

func (b *Backend) Size(ctx context.Context) (int, error) {
	var n int
	q := `SELECT COUNT(*) FROM records WHERE ` + prefixClause("key")
	if err := b.db.QueryRowContext(ctx, q, b.Prefix().String()).Scan(&n); err != nil {
		return 0, dbErr(err, "counting records")
	}
	return n, nil
}

// Clear deletes the records whose tags intersect tags, or every record
// under the active prefix when no tags are given.
func (b *Backend) Clear(ctx context.Context, tags ...string) error {
	prefix := b.Prefix().String()
	if len(tags) == 0 {
		return b.inTx(ctx, func(tx *sql.Tx) error {
			q := `DELETE FROM embeddings WHERE rowid IN (SELECT embedding_id FROM records WHERE ` + prefixClause("key") + `)`
			if _, err := tx.ExecContext(ctx, q, prefix); err != nil {
				return dbErr(err, "clearing embeddings", recallerr.FieldPrefix(prefix))
			}
			res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE `+prefixClause("key"), prefix)
			if err != nil {
				return dbErr(err, "clearing records", recallerr.FieldPrefix(prefix))
			}
			n, _ := res.RowsAffected()
			slog.Debug("cleared sqlite prefix", "prefix", prefix, "count", n)
			return nil
		})
	}

	matches, err := b.taggedCandidates(ctx, tags)
	if err != nil {
		return err
	}
	keys := make([]string, len(matches))
	for i, m := range matches {
		keys[i] = m.physical
	}
	return b.inTx(ctx, func(tx *sql.Tx) error {
		n, err := deleteKeys(ctx, tx, keys)
		if err == nil {
			slog.Debug("cleared sqlite records by tag", "prefix", prefix, "tags", tags, "count", n)
		}
		return err
	})
}

type candidate struct {
	physical    string
	embeddingID int64
}

// taggedCandidates narrows rows under the active prefix with a textual
// containment test per tag, then keeps only exact tag intersections.
// Each tag is searched with its JSON quotes so "a" never matches "abc".
func (b *Backend) taggedCandidates(ctx context.Context, tags []string) ([]candidate, error) {
	filter := store.FilterSet(b.normalizer(), tags)
	if filter.Empty() {
		return nil, nil
	}

	values := filter.Strings()
	clauses := make([]string, len(values))
	args := []any{b.Prefix().String()}
	for i, v := range values {
		needle, err := json.Marshal(v)
		if err != nil {
			return nil, recallerr.Wrap(err, recallerr.CodeStoreRecordEncodeFailure, "encoding tag filter")
		}
		clauses[i] = `instr(tags, ?) > 0`
		args = append(args, string(needle))
	}
	q := `SELECT key, tags, embedding_id FROM records WHERE ` + prefixClause("key") +
		` AND (` + strings.Join(clauses, " OR ") + `) ORDER BY rowid`

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbErr(err, "filtering records by tag")
	}
	defer func() { _ = rows.Close() }()

	var out []candidate
	for rows.Next() {
		var (
			c        candidate
			tagsJSON string
			stored   []string
		)
		if err := rows.Scan(&c.physical, &tagsJSON, &c.embeddingID); err != nil {
			return nil, dbErr(err, "scanning tag candidate")
		}
		if err := json.Unmarshal([]byte(tagsJSON), &stored); err != nil {
			return nil, recallerr.Wrap(err, recallerr.CodeStoreRecordDecodeFailure, "decoding tags", recallerr.FieldKey(c.physical))
		}
		if tag.Of("", stored...).Intersects(filter) {
			out = append(out, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterating tag candidates")
	}
	return out, nil
}

// FindRecords ranks candidates inside SQLite by cosine distance. Rows with
// a zero norm sort as similarity 0; ties keep insertion order.
func (b *Backend) FindRecords(ctx context.Context, needle []float32, opts store.FindOpts) ([]*store.Record, error) {
	if err := store.CheckDimensions(needle, b.dimensions); err != nil {
		return nil, err
	}
	prefix := b.Prefix().String()

	var (
		where string
		args  []any
	)
	if len(opts.Tags) > 0 {
		matches, err := b.taggedCandidates(ctx, opts.Tags)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, nil
		}
		ids := make([]int64, len(matches))
		for i, m := range matches {
			ids[i] = m.embeddingID
		}
		idsJSON, err := json.Marshal(ids)
		if err != nil {
			return nil, recallerr.Wrap(err, recallerr.CodeStoreRecordEncodeFailure, "encoding candidate ids")
		}
		where = `r.embedding_id IN (SELECT value FROM json_each(?2))`
		args = []any{prefix, string(idsJSON)}
	} else {
		where = prefixClause("r.key")
		args = []any{prefix, nil}
	}

	size, err := b.Size(ctx)
	if err != nil {
		return nil, err
	}
	limit := min(size, store.MaxFindRecords)
	if opts.MaxRecords > 0 {
		limit = min(limit, opts.MaxRecords)
	}
	if limit == 0 {
		return nil, nil
	}

	blob, err := sqlite_vec.SerializeFloat32(needle)
	if err != nil {
		return nil, recallerr.Wrap(err, recallerr.CodeStoreRecordEncodeFailure, "serializing needle")
	}

	zeroNeedle := store.Norm(needle) == 0
	q := `SELECT * FROM (
	SELECT r.rowid AS rid, r.key, r.text, r.norm, r.source, r.tags, e.embedding,
		CASE WHEN r.norm = 0 THEN 1.0 ELSE COALESCE(vec_distance_cosine(e.embedding, ?3), 1.0) END AS distance
	FROM records r
	JOIN embeddings e ON e.rowid = r.embedding_id
	WHERE ` + where + `
) ORDER BY distance, rid LIMIT ?4`
	args = append(args, blob, limit)

	rows, err := b.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbErr(err, "searching vectors")
	}
	defer func() { _ = rows.Close() }()

	var results []*store.Record
	for rows.Next() {
		var distance float64
		_, physical, rec, err := scanRecord(rows, &distance)
		if err != nil {
			return nil, dbErr(err, "scanning vector result")
		}
		sim := 1 - distance
		if zeroNeedle {
			sim = 0
		}
		rec.Key = strings.TrimPrefix(physical, prefix)
		rec.Similarity = &sim
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterating vector results")
	}
	return results, nil
}

// page enumerates records matching where in rowid order, pageSize rows at
// a time, so fn may write to the database. Rows are bounded by the highest
// rowid at the start; a Set inside fn gets a new rowid and is not revisited.
func (b *Backend) page(ctx context.Context, where string, arg any, fn func(physical string, rec *store.Record) error) error {
	var maxRowID sql.NullInt64
	if err := b.db.QueryRowContext(ctx, `SELECT max(rowid) FROM records`).Scan(&maxRowID); err != nil {
		return dbErr(err, "reading last rowid")
	}
	if !maxRowID.Valid {
		return nil
	}

	q := selectRecord + ` WHERE ` + where + ` AND r.rowid > ?2 AND r.rowid <= ?4 ORDER BY r.rowid LIMIT ?3`
	var after int64
	for {
		batch, last, err := b.fetchPage(ctx, q, arg, after, maxRowID.Int64)
		if err != nil {
			return err
		}
		for _, it := range batch {
			if err := fn(it.physical, it.rec); err != nil {
				return err
			}
		}
		if len(batch) < pageSize {
			return nil
		}
		after = last
	}
}

type pageItem struct {
	physical string
	rec      *store.Record
}

func (b *Backend) fetchPage(ctx context.Context, q string, arg any, after, upTo int64) ([]pageItem, int64, error) {
	rows, err := b.db.QueryContext(ctx, q, arg, after, pageSize, upTo)
	if err != nil {
		return nil, 0, dbErr(err, "listing records")
	}
	defer func() { _ = rows.Close() }()

	var (
		items []pageItem
		last  int64
	)
	for rows.Next() {
		rowID, physical, rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, dbErr(err, "scanning record")
		}
		items = append(items, pageItem{physical: physical, rec: rec})
		last = rowID
	}
	if err := rows.Err(); err != nil {
		return nil, 0, dbErr(err, "iterating records")
	}
	return items, last, nil
}

func (b *Backend) Each(ctx context.Context, fn store.EachFunc) error {
	prefix := b.Prefix().String()
	return b.page(ctx, prefixClause("r.key"), prefix, func(physical string, rec *store.Record) error {
		return fn(strings.TrimPrefix(physical, prefix), rec)
	})
}

func (b *Backend) FullEach(ctx context.Context, fn store.EachFunc) error {
	return b.page(ctx, `?1 IS NOT NULL`, true, fn)
}

// Collections extracts names inside SQLite; record values are not read.
func (b *Backend) Collections(ctx context.Context, scanPrefix string) ([]string, error) {
	const q = `SELECT DISTINCT substr(rest, 1, instr(rest, '-') - 1) AS name
FROM (SELECT substr(key, length(?1) + 1) AS rest FROM records WHERE substr(key, 1, length(?1)) = ?1)
WHERE instr(rest, '-') > 1
ORDER BY name`
	rows, err := b.db.QueryContext(ctx, q, scanPrefix)
	if err != nil {
		return nil, dbErr(err, "listing collections")
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, dbErr(err, "scanning collection")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterating collections")
	}
	return names, nil
}

// Tags reads only the tag and source columns.
func (b *Backend) Tags(ctx context.Context) (*tag.Set, error) {
	q := `SELECT tags, source FROM records WHERE ` + prefixClause("key")
	rows, err := b.db.QueryContext(ctx, q, b.Prefix().String())
	if err != nil {
		return nil, dbErr(err, "listing tags")
	}
	defer func() { _ = rows.Close() }()

	all := tag.NewSet(b.normalizer())
	for rows.Next() {
		var (
			tagsJSON string
			source   sql.NullString
			stored   []string
		)
		if err := rows.Scan(&tagsJSON, &source); err != nil {
			return nil, dbErr(err, "scanning tags")
		}
		if err := json.Unmarshal([]byte(tagsJSON), &stored); err != nil {
			return nil, recallerr.Wrap(err, recallerr.CodeStoreRecordDecodeFailure, "decoding tags")
		}
		for _, t := range stored {
			all.Add(t, source.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr(err, "iterating tags")
	}
	return all, nil
}

// Close closes the underlying database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// decodeFloat32s unpacks a little-endian float32 blob as written by
// sqlite_vec.SerializeFloat32.
func decodeFloat32s(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, recallerr.New(recallerr.CodeStoreRecordDecodeFailure, "embedding blob is not a float32 array",
			recallerr.Field("bytes", len(blob)))
	}
	v := make([]float32, len(blob)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return v, nil
}
