package main

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strconv"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/samber/oops"
)

const postsTable = "messages"

// pgFKViolation is the Postgres class 23 code for foreign_key_violation.
const pgFKViolation = "23503"

var fkDetailExpr = regexp.MustCompile(`\(parent_id\)=\((\d+)\)`)

// PostStore is the durable record of published posts and reply threads.
type PostStore interface {
	Insert(ctx context.Context, rec PostRecord) (*PostRecord, error)
	GetByID(ctx context.Context, id int64) (*PostRecord, error)
	GetRepliesByParent(ctx context.Context, parentID int64) ([]*PostRecord, error)
	Update(ctx context.Context, id int64, fields map[string]any) (*PostRecord, error)
	RecentPosts(ctx context.Context, limit int) ([]*PostRecord, error)
}

// PostgresStore persists post records in Postgres. Writes are single-row;
// nil fields are omitted entirely (partial write semantics).
type PostgresStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ PostStore = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// OpenDatabase connects to Postgres and verifies the connection.
func OpenDatabase(cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, oops.With("context", "opening database").Wrap(err)
	}
	if err := db.Ping(); err != nil {
		return nil, oops.With("context", "pinging database").Wrap(err)
	}
	return db, nil
}

// EnsureSchema creates the posts table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id           BIGSERIAL PRIMARY KEY,
			telegram_id  BIGINT,
			message_text TEXT NOT NULL,
			url          TEXT,
			is_post      BOOLEAN NOT NULL DEFAULT FALSE,
			user_id      BIGINT,
			username     TEXT,
			parent_id    BIGINT REFERENCES messages (id),
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return oops.With("context", "creating schema").Wrap(err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec PostRecord) (*PostRecord, error) {
	values := insertValues(rec)

	var id int64
	err := s.sb.Insert(postsTable).
		SetMap(values).
		Suffix("RETURNING id").
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&id)
	if err != nil {
		return nil, mapInsertError(err, rec.ParentID)
	}

	rec.ID = id
	return &rec, nil
}

// insertValues builds the column map, omitting nil/absent fields.
func insertValues(rec PostRecord) map[string]any {
	values := map[string]any{
		"message_text": rec.Text,
		"is_post":      rec.IsPost,
		"user_id":      rec.AuthorID,
	}
	if rec.DiscussionMessageID != nil {
		values["telegram_id"] = *rec.DiscussionMessageID
	}
	if rec.SourceURLs != nil {
		values["url"] = *rec.SourceURLs
	}
	if rec.AuthorName != "" {
		values["username"] = rec.AuthorName
	}
	if rec.ParentID != nil {
		values["parent_id"] = *rec.ParentID
	}
	return values
}

// mapInsertError turns a parent_id FK violation into a ForeignKeyError
// carrying the offending id, leaving other failures wrapped generically.
func mapInsertError(err error, parentID *int64) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pgFKViolation {
		return &ForeignKeyError{ParentID: foreignKeyParent(pqErr.Detail, parentID)}
	}
	return oops.With("table", postsTable).Wrap(err)
}

// foreignKeyParent extracts the offending id from the error detail
// ("Key (parent_id)=(42) is not present..."), falling back to the value we
// tried to write.
func foreignKeyParent(detail string, parentID *int64) int64 {
	if m := fkDetailExpr.FindStringSubmatch(detail); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			return id
		}
	}
	if parentID != nil {
		return *parentID
	}
	return 0
}

func (s *PostgresStore) GetByID(ctx context.Context, id int64) (*PostRecord, error) {
	row := s.selectRecords().
		Where(sq.Eq{"id": id}).
		RunWith(s.db).
		QueryRowContext(ctx)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, oops.With("id", id).Wrap(err)
	}
	return rec, nil
}

func (s *PostgresStore) GetRepliesByParent(ctx context.Context, parentID int64) ([]*PostRecord, error) {
	rows, err := s.selectRecords().
		Where(sq.Eq{"parent_id": parentID}).
		OrderBy("id").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, oops.With("parent_id", parentID).Wrap(err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (s *PostgresStore) Update(ctx context.Context, id int64, fields map[string]any) (*PostRecord, error) {
	values := map[string]any{}
	for k, v := range fields {
		if v == nil {
			continue
		}
		values[k] = v
	}
	if len(values) == 0 {
		return nil, ErrEmptyUpdate
	}

	_, err := s.sb.Update(postsTable).
		SetMap(values).
		Where(sq.Eq{"id": id}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return nil, mapInsertError(err, nil)
	}

	return s.GetByID(ctx, id)
}

// RecentPosts returns the latest published posts, newest first.
func (s *PostgresStore) RecentPosts(ctx context.Context, limit int) ([]*PostRecord, error) {
	rows, err := s.selectRecords().
		Where(sq.Eq{"is_post": true}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		return nil, oops.With("limit", limit).Wrap(err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (s *PostgresStore) selectRecords() sq.SelectBuilder {
	return s.sb.Select(
		"id", "telegram_id", "message_text", "url",
		"is_post", "user_id", "username", "parent_id", "created_at",
	).From(postsTable)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*PostRecord, error) {
	var (
		rec        PostRecord
		telegramID sql.NullInt64
		url        sql.NullString
		userID     sql.NullInt64
		username   sql.NullString
		parentID   sql.NullInt64
	)

	err := row.Scan(&rec.ID, &telegramID, &rec.Text, &url,
		&rec.IsPost, &userID, &username, &parentID, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	if telegramID.Valid {
		rec.DiscussionMessageID = &telegramID.Int64
	}
	if url.Valid {
		rec.SourceURLs = &url.String
	}
	rec.AuthorID = userID.Int64
	rec.AuthorName = username.String
	if parentID.Valid {
		rec.ParentID = &parentID.Int64
	}
	return &rec, nil
}

func collectRecords(rows *sql.Rows) ([]*PostRecord, error) {
	var records []*PostRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, oops.With("context", "scanning record").Wrap(err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.With("context", "iterating records").Wrap(err)
	}
	return records, nil
}
