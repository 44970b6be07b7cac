// Package sqlite is the default local persistence host: a single database
// file holding quizzes, results and keyed JSON blobs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"quiz-studio/internal/app"
	"quiz-studio/internal/domain"
)

// Store implements app.Store on SQLite.
type Store struct {
	conn *sql.DB
}

// Open creates the database file if needed and initializes tables.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// one writer; SQLite serializes anyway
	db.SetMaxOpenConns(1)

	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	if err = createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{conn: db}, nil
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS quizzes (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			body TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS results (
			id TEXT PRIMARY KEY,
			quiz_id TEXT NOT NULL,
			completed_at INTEGER NOT NULL,
			body TEXT NOT NULL
		)
	`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS results_quiz_completed ON results (quiz_id, completed_at)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS blobs (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	return err
}

func (s *Store) PutBlob(ctx context.Context, key string, value []byte) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO blobs (key, value, updated_at) VALUES (?, ?, ?)",
		key, value, time.Now().UnixMilli(),
	)
	return err
}

func (s *Store) GetBlob(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.conn.QueryRowContext(ctx, "SELECT value FROM blobs WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *Store) DeleteBlob(ctx context.Context, key string) error {
	_, err := s.conn.ExecContext(ctx, "DELETE FROM blobs WHERE key = ?", key)
	return err
}

func (s *Store) PutQuiz(ctx context.Context, quiz domain.Quiz) error {
	body, err := json.Marshal(quiz)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO quizzes (id, title, updated_at, body) VALUES (?, ?, ?, ?)",
		quiz.ID, quiz.Title, quiz.UpdatedAt.UnixMilli(), string(body),
	)
	return err
}

func (s *Store) GetQuiz(ctx context.Context, id string) (domain.Quiz, error) {
	var body string
	err := s.conn.QueryRowContext(ctx, "SELECT body FROM quizzes WHERE id = ?", id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, err
	}
	var quiz domain.Quiz
	if err := json.Unmarshal([]byte(body), &quiz); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

func (s *Store) AllQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT body FROM quizzes ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quizzes []domain.Quiz
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var quiz domain.Quiz
		if err := json.Unmarshal([]byte(body), &quiz); err != nil {
			return nil, err
		}
		quizzes = append(quizzes, quiz)
	}
	return quizzes, rows.Err()
}

func (s *Store) DeleteQuiz(ctx context.Context, id string) error {
	_, err := s.conn.ExecContext(ctx, "DELETE FROM quizzes WHERE id = ?", id)
	return err
}

func (s *Store) PutResult(ctx context.Context, result domain.Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx,
		"INSERT INTO results (id, quiz_id, completed_at, body) VALUES (?, ?, ?, ?)",
		result.ID, result.QuizID, result.CompletedAt.UnixMilli(), string(body),
	)
	return err
}

// Results returns matching results, newest first.
func (s *Store) Results(ctx context.Context, filter app.ResultFilter) ([]domain.Result, error) {
	var (
		where []string
		args  []any
	)
	if filter.QuizID != "" {
		where = append(where, "quiz_id = ?")
		args = append(args, filter.QuizID)
	}
	if !filter.Since.IsZero() {
		where = append(where, "completed_at >= ?")
		args = append(args, filter.Since.UnixMilli())
	}
	query := "SELECT body FROM results"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY completed_at DESC, rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.Result
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r domain.Result
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
