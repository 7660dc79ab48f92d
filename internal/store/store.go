// Package store loads and caches parsed structures by accession id.
//
// Raw structure text is cached in a SQLite table (deposited structures are
// immutable), parsed structures in a bounded in-process LRU. Concurrent
// requests for the same uncached key collapse into a single upstream fetch.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"golang.org/x/sync/singleflight"

	"github.com/proteosurf/proteosurf/internal/metrics"
	"github.com/proteosurf/proteosurf/internal/models"
	"github.com/proteosurf/proteosurf/internal/pdb"
)

// NotFoundError reports an accession that does not exist upstream.
type NotFoundError struct {
	Source    models.Source
	Accession string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s entry %q not found", e.Source, e.Accession)
}

var (
	rcsbIDPattern    = regexp.MustCompile(`^[0-9][A-Za-z0-9]{3}$`)
	uniprotIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{6,10}$`)
)

// Store is the process-wide structure cache.
type Store struct {
	db       *sql.DB
	parsed   *lru.Cache[string, *models.Structure]
	group    singleflight.Group
	fetchers map[models.Source]Fetcher
	logger   *slog.Logger
}

// Open creates the structures.db cache under dataDir and wires the given
// upstream fetchers. parsedCacheSize bounds the in-memory LRU.
func Open(dataDir string, parsedCacheSize int, fetchers map[models.Source]Fetcher, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "structures.db")
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open structure cache: %w", err)
	}
	if _, err := db.Exec(CacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate structure cache: %w", err)
	}

	cache, err := lru.New[string, *models.Structure](parsedCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:       db,
		parsed:   cache,
		fetchers: fetchers,
		logger:   logger,
	}, nil
}

// Close closes the underlying cache database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the parsed structure for (source, accession), fetching from
// upstream at most once per key across concurrent callers. No cache entry
// is written when the accession is missing upstream or unparseable.
func (s *Store) Get(ctx context.Context, source models.Source, accession string) (*models.Structure, error) {
	accession = strings.ToUpper(strings.TrimSpace(accession))
	key := string(source) + "/" + accession

	// Synthetic accessions (mutated copies inserted via Put) live only in
	// the LRU, so the lookup runs before upstream id validation.
	if st, ok := s.parsed.Get(key); ok {
		metrics.StructureFetches.WithLabelValues(string(source), "hit").Inc()
		return st, nil
	}

	if err := validate(source, accession); err != nil {
		return nil, err
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.load(ctx, source, accession, key)
	})
	if err != nil {
		metrics.StructureFetches.WithLabelValues(string(source), "error").Inc()
		return nil, err
	}
	return v.(*models.Structure), nil
}

func (s *Store) load(ctx context.Context, source models.Source, accession, key string) (*models.Structure, error) {
	// Another waiter may have populated the LRU while we queued.
	if st, ok := s.parsed.Get(key); ok {
		return st, nil
	}

	raw, cached, err := s.rawFromCache(ctx, source, accession)
	if err != nil {
		return nil, err
	}
	if !cached {
		fetcher, ok := s.fetchers[source]
		if !ok {
			return nil, fmt.Errorf("no fetcher for source %q", source)
		}
		raw, err = fetcher.Fetch(ctx, accession)
		if err != nil {
			return nil, err
		}
		metrics.StructureFetches.WithLabelValues(string(source), "miss").Inc()
		s.logger.Info("fetched structure", "source", source, "accession", accession, "bytes", len(raw))
	}

	st, err := pdb.Parse(accession, source, strings.NewReader(raw))
	if err != nil {
		if cached {
			// A cached row that no longer parses is corrupt; drop it.
			s.db.ExecContext(ctx, `DELETE FROM structures WHERE source = ? AND accession = ?`, string(source), accession)
		}
		return nil, err
	}

	if !cached {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO structures (source, accession, raw) VALUES (?, ?, ?)`,
			string(source), accession, raw); err != nil {
			s.logger.Warn("cache write failed", "accession", accession, "err", err)
		}
	}

	s.parsed.Add(key, st)
	return st, nil
}

func (s *Store) rawFromCache(ctx context.Context, source models.Source, accession string) (string, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT raw FROM structures WHERE source = ? AND accession = ?`,
		string(source), accession).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("read structure cache: %w", err)
	}
	s.db.ExecContext(ctx,
		`UPDATE structures SET last_used = datetime('now') WHERE source = ? AND accession = ?`,
		string(source), accession)
	return raw, true, nil
}

// Put inserts an already-parsed structure under a synthetic accession,
// used for mutated copies so render and docking can address them.
func (s *Store) Put(st *models.Structure) {
	key := string(st.Source) + "/" + strings.ToUpper(st.Accession)
	s.parsed.Add(key, st)
}

func validate(source models.Source, accession string) error {
	switch source {
	case models.SourceRCSB:
		if !rcsbIDPattern.MatchString(accession) {
			return fmt.Errorf("PDB id must be 4 alphanumeric characters starting with a digit, got %q", accession)
		}
	case models.SourceAlphaFold:
		if !uniprotIDPattern.MatchString(accession) {
			return fmt.Errorf("UniProt accession %q is not valid", accession)
		}
	default:
		return fmt.Errorf("unknown source %q", source)
	}
	return nil
}
