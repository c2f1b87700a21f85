package pgx

import (
	"context"
	"sync"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/caselight/backend/pkg/logger"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// ArchiveDBStorage implements store.ArchiveStorage on PostgreSQL with
// pgvector for chunk embeddings. Capability probes are cached for the
// lifetime of the storage so every batch does not re-query the catalog.
//
// An ArchiveDBStorage should be created using NewArchiveDBStorage.
//
// Example:
//
//	pool, err := pgxpool.New(ctx, os.Getenv("DATABASE_URL"))
//	if err != nil {
//		log.Fatal(err)
//	}
//	storage := pgx.NewArchiveDBStorage(pool)
type ArchiveDBStorage struct {
	conn pgxIConn

	capLock sync.Mutex
	caps    map[string]bool
}

// NewArchiveDBStorage creates a storage backed by the given connection.
// The connection may be a single *pgx.Conn, a pool, or a transaction.
func NewArchiveDBStorage(conn pgxIConn) *ArchiveDBStorage {
	return &ArchiveDBStorage{
		conn: conn,
		caps: make(map[string]bool),
	}
}

// HasProcedure reports whether a function or procedure with the given
// name exists in the connected database.
func (s *ArchiveDBStorage) HasProcedure(ctx context.Context, name string) bool {
	return s.probe(ctx, "proc:"+name,
		`SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = $1)`, name)
}

// HasExtension reports whether the given extension is installed.
func (s *ArchiveDBStorage) HasExtension(ctx context.Context, name string) bool {
	return s.probe(ctx, "ext:"+name,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = $1)`, name)
}

func (s *ArchiveDBStorage) probe(ctx context.Context, key, sql string, args ...any) bool {
	s.capLock.Lock()
	defer s.capLock.Unlock()

	if cached, ok := s.caps[key]; ok {
		return cached
	}

	var exists bool
	if err := s.conn.QueryRow(ctx, sql, args...).Scan(&exists); err != nil {
		logger.Warn("Capability probe failed, assuming unsupported", "capability", key, "err", err)
		return false
	}
	s.caps[key] = exists
	return exists
}
