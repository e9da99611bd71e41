package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/labelworks/parser-cli/internal/model"
	"github.com/labelworks/parser-cli/internal/pipeline"
	"github.com/labelworks/parser-cli/internal/vocab"
)

// ErrNotFound is returned when a product or record lookup matches nothing.
var ErrNotFound = eris.New("store: not found")

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS products (
	upc        TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	fragments  TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	product_id TEXT NOT NULL,
	record     TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extraction_cache (
	key        TEXT PRIMARY KEY,
	entry      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_products_name ON products(name);
CREATE INDEX IF NOT EXISTS idx_records_product_id ON records(product_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertProduct(ctx context.Context, p model.Product) error {
	fragJSON, err := json.Marshal(p.Fragments)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fragments")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO products (upc, name, fragments, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(upc) DO UPDATE SET name = excluded.name, fragments = excluded.fragments, updated_at = excluded.updated_at`,
		p.ID, p.Name, string(fragJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert product %s", p.ID)
}

func (s *SQLiteStore) GetProductByUPC(ctx context.Context, upc string) (*model.Product, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT upc, name, fragments FROM products WHERE upc = ?`,
		upc,
	)
	return scanProduct(row)
}

// FindProductByName resolves a human-entered name: case-insensitive substring
// match first, then the closest candidate by normalized edit similarity so
// "live clean" still finds "Live Clean Shampoo".
func (s *SQLiteStore) FindProductByName(ctx context.Context, name string) (*model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT upc, name, fragments FROM products WHERE name LIKE '%' || ? || '%' COLLATE NOCASE
		 ORDER BY name LIMIT 50`,
		name,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find product by name")
	}
	defer rows.Close()

	var (
		best      *model.Product
		bestScore float64
		params    = levenshtein.NewParams()
		target    = vocab.NormalizeName(name)
	)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		score := levenshtein.Similarity(target, vocab.NormalizeName(p.Name), params)
		if best == nil || score > bestScore {
			best, bestScore = p, score
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: find product iterate")
	}
	if best == nil {
		return nil, eris.Wrapf(ErrNotFound, "product name %q", name)
	}
	return best, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT upc, name, fragments FROM products ORDER BY upc`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products")
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, eris.Wrap(rows.Err(), "sqlite: list products iterate")
}

func (s *SQLiteStore) SaveRecord(ctx context.Context, rec *model.ProductRecord) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	recJSON, err := json.Marshal(rec)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, product_id, record, created_at) VALUES (?, ?, ?, ?)`,
		id, rec.ProductID, string(recJSON), now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert record for %s", rec.ProductID)
	}
	return id, nil
}

func (s *SQLiteStore) GetLatestRecord(ctx context.Context, productID string) (*SavedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, record, created_at FROM records
		 WHERE product_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		productID,
	)

	var sr SavedRecord
	var recJSON string
	err := row.Scan(&sr.ID, &sr.ProductID, &recJSON, &sr.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "record for product %s", productID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get latest record")
	}
	if err := json.Unmarshal([]byte(recJSON), &sr.Record); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal record")
	}
	return &sr, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (*pipeline.CachedExtraction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT entry FROM extraction_cache WHERE key = ?`,
		key,
	)

	var entryJSON string
	err := row.Scan(&entryJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: cache get")
	}

	var entry pipeline.CachedExtraction
	if err := json.Unmarshal([]byte(entryJSON), &entry); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal cache entry")
	}
	return &entry, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, entry *pipeline.CachedExtraction) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal cache entry")
	}

	// Insert-if-absent: the first extraction for a key wins.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO extraction_cache (key, entry, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		key, string(entryJSON), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: cache put")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanProduct(row scannable) (*model.Product, error) {
	var p model.Product
	var fragJSON string

	err := row.Scan(&p.ID, &p.Name, &fragJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "product")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan product")
	}
	if err := json.Unmarshal([]byte(fragJSON), &p.Fragments); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal fragments")
	}
	return &p, nil
}
