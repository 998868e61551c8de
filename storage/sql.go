package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/sdragent/gateway"
	"github.com/effective-security/xlog"
	"github.com/lib/pq"
	_ "modernc.org/sqlite" // sqlite driver
)

// Dialect of the SQL database
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// DefaultListLimit is used when ListRankings is called without a limit
const DefaultListLimit = 100

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ranking (
		handle         TEXT PRIMARY KEY,
		name           TEXT NOT NULL DEFAULT '',
		niche          TEXT NOT NULL DEFAULT '',
		score          DOUBLE PRECISION NOT NULL DEFAULT 0,
		qualified      BOOLEAN NOT NULL DEFAULT FALSE,
		source_payload TEXT NOT NULL DEFAULT '',
		created_ts     BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS mcp_server (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL DEFAULT '',
		descriptor       TEXT NOT NULL,
		enabled          BOOLEAN NOT NULL DEFAULT TRUE,
		status           TEXT NOT NULL DEFAULT 'disconnected',
		last_error       TEXT NOT NULL DEFAULT '',
		discovered_tools TEXT NOT NULL DEFAULT '[]',
		last_connected   BIGINT,
		created_ts       BIGINT NOT NULL,
		updated_ts       BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ranking_created ON ranking(created_ts)`,
}

// SQL is the Storage backed by postgres or sqlite
type SQL struct {
	db      *sql.DB
	dialect Dialect
}

var _ Storage = (*SQL)(nil)

// Open opens the database and applies the schema
func Open(ctx context.Context, dialect Dialect, dsn string) (*SQL, error) {
	switch dialect {
	case Postgres, SQLite:
	default:
		return nil, errors.Newf("unsupported dialect: %q", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", dialect)
	}
	if dialect == SQLite {
		// sqlite allows one writer
		db.SetMaxOpenConns(1)
	}

	s, err := New(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New returns the Storage over an open database and applies the schema
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*SQL, error) {
	s := &SQL{db: db, dialect: dialect}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Wrap(err, "failed to apply schema")
		}
	}
	logger.ContextKV(ctx, xlog.DEBUG, "status", "schema_applied", "dialect", dialect)
	return s, nil
}

// Close closes the database
func (s *SQL) Close() error {
	return s.db.Close()
}

func (s *SQL) placeholder(n int) string {
	if s.dialect == Postgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (s *SQL) placeholders(from, count int) string {
	list := make([]string, count)
	for i := range list {
		list[i] = s.placeholder(from + i)
	}
	return strings.Join(list, ", ")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

const rankingColumns = `handle, name, niche, score, qualified, source_payload, created_ts`

type scanner interface {
	Scan(dest ...any) error
}

func scanRanking(row scanner) (*Ranking, error) {
	r := &Ranking{}
	var created int64
	if err := row.Scan(&r.Handle, &r.Name, &r.Niche, &r.Score, &r.Qualified, &r.SourcePayload, &created); err != nil {
		return nil, err
	}
	r.CreatedAt = fromMillis(created)
	return r, nil
}

func (s *SQL) GetRankingByHandle(ctx context.Context, handle string) (*Ranking, error) {
	handle = NormalizeHandle(handle)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rankingColumns+` FROM ranking WHERE handle = `+s.placeholder(1), handle)
	r, err := scanRanking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithMessagef(ErrNotFound, "ranking %s", handle)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get ranking %s", handle)
	}
	return r, nil
}

func (s *SQL) CreateRanking(ctx context.Context, r *Ranking) (*Ranking, error) {
	created := *r
	created.Handle = NormalizeHandle(r.Handle)
	if created.Handle == "" {
		return nil, errors.New("ranking handle is required")
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ranking (`+rankingColumns+`) VALUES (`+s.placeholders(1, 7)+`)`,
		created.Handle, created.Name, created.Niche, created.Score, created.Qualified,
		created.SourcePayload, toMillis(created.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.WithMessagef(ErrAlreadyExists, "ranking %s", created.Handle)
		}
		return nil, errors.Wrapf(err, "failed to create ranking %s", created.Handle)
	}
	created.CreatedAt = fromMillis(toMillis(created.CreatedAt))
	return &created, nil
}

func (s *SQL) ListRankings(ctx context.Context, limit int) ([]*Ranking, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rankingColumns+` FROM ranking ORDER BY score DESC, handle LIMIT `+s.placeholder(1), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list rankings")
	}
	defer rows.Close()

	list := []*Ranking{}
	for rows.Next() {
		r, err := scanRanking(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan ranking")
		}
		list = append(list, r)
	}
	return list, errors.WithStack(rows.Err())
}

const serverColumns = `id, name, descriptor, enabled, status, last_error, discovered_tools, last_connected, created_ts, updated_ts`

func scanServer(row scanner) (*Server, error) {
	var (
		srv            Server
		name           string
		desc, tools    string
		status         string
		lastConnected  sql.NullInt64
		created, upded int64
	)
	err := row.Scan(&srv.ID, &name, &desc, &srv.Enabled, &status, &srv.LastError, &tools, &lastConnected, &created, &upded)
	if err != nil {
		return nil, err
	}
	if err = json.Unmarshal([]byte(desc), &srv.Descriptor); err != nil {
		return nil, errors.Wrapf(err, "invalid descriptor of server %s", srv.ID)
	}
	if err = json.Unmarshal([]byte(tools), &srv.DiscoveredTools); err != nil {
		return nil, errors.Wrapf(err, "invalid tools of server %s", srv.ID)
	}
	if srv.DiscoveredTools == nil {
		srv.DiscoveredTools = []DiscoveredTool{}
	}
	srv.Status = gateway.Status(status)
	if lastConnected.Valid {
		t := fromMillis(lastConnected.Int64)
		srv.LastConnected = &t
	}
	srv.CreatedAt = fromMillis(created)
	srv.UpdatedAt = fromMillis(upded)
	return &srv, nil
}

func (s *SQL) CreateServer(ctx context.Context, srv *Server) (*Server, error) {
	if srv.ID == "" {
		return nil, errors.New("server id is required")
	}
	created := *srv
	created.Descriptor.ID = srv.ID
	if created.Status == "" {
		created.Status = gateway.StatusDisconnected
	}
	if created.DiscoveredTools == nil {
		created.DiscoveredTools = []DiscoveredTool{}
	}
	now := fromMillis(toMillis(time.Now()))
	created.CreatedAt = now
	created.UpdatedAt = now

	desc, err := json.Marshal(created.Descriptor)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode descriptor")
	}
	tools, err := json.Marshal(created.DiscoveredTools)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode tools")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mcp_server (`+serverColumns+`) VALUES (`+s.placeholders(1, 10)+`)`,
		created.ID, created.Descriptor.DisplayName(), string(desc), created.Enabled, string(created.Status),
		created.LastError, string(tools), nil, toMillis(now), toMillis(now))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, errors.WithMessagef(ErrAlreadyExists, "server %s", created.ID)
		}
		return nil, errors.Wrapf(err, "failed to create server %s", created.ID)
	}
	return &created, nil
}

func (s *SQL) GetServer(ctx context.Context, id string) (*Server, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+serverColumns+` FROM mcp_server WHERE id = `+s.placeholder(1), id)
	srv, err := scanServer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.WithMessagef(ErrNotFound, "server %s", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get server %s", id)
	}
	return srv, nil
}

func (s *SQL) ListServers(ctx context.Context) ([]*Server, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+serverColumns+` FROM mcp_server ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list servers")
	}
	defer rows.Close()

	list := []*Server{}
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan server")
		}
		list = append(list, srv)
	}
	return list, errors.WithStack(rows.Err())
}

func (s *SQL) DeleteServer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mcp_server WHERE id = `+s.placeholder(1), id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete server %s", id)
	}
	return expectAffected(res, "server "+id)
}

func (s *SQL) SetServerEnabled(ctx context.Context, id string, enabled bool) (*Server, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE mcp_server SET enabled = `+s.placeholder(1)+`, updated_ts = `+s.placeholder(2)+
			` WHERE id = `+s.placeholder(3),
		enabled, toMillis(time.Now()), id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update server %s", id)
	}
	if err = expectAffected(res, "server "+id); err != nil {
		return nil, err
	}
	return s.GetServer(ctx, id)
}

func (s *SQL) UpdateServerStatus(ctx context.Context, id string, update *StatusUpdate) error {
	tools := update.DiscoveredTools
	if tools == nil {
		tools = []DiscoveredTool{}
	}
	js, err := json.Marshal(tools)
	if err != nil {
		return errors.Wrap(err, "failed to encode tools")
	}

	set := []string{
		"status = " + s.placeholder(1),
		"last_error = " + s.placeholder(2),
		"discovered_tools = " + s.placeholder(3),
		"updated_ts = " + s.placeholder(4),
	}
	args := []any{string(update.Status), update.LastError, string(js), toMillis(time.Now())}
	if update.LastConnected != nil {
		set = append(set, "last_connected = "+s.placeholder(len(args)+1))
		args = append(args, toMillis(*update.LastConnected))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE mcp_server SET `+strings.Join(set, ", ")+` WHERE id = `+s.placeholder(len(args)),
		args...)
	if err != nil {
		return errors.Wrapf(err, "failed to update status of server %s", id)
	}
	return expectAffected(res, "server "+id)
}

func expectAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.WithStack(err)
	}
	if n == 0 {
		return errors.WithMessagef(ErrNotFound, "%s", what)
	}
	return nil
}
