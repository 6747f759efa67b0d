package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
	"github.com/tmc/langchaingo/llms"
)

// ErrNotFound is returned when a plan or session does not exist.
var ErrNotFound = errors.New("store: not found")

// Store persists plans, sessions, their logs and chat history in SQLite.
type Store struct {
	DB *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer keeps the driver from returning SQLITE_BUSY under the
	// dispatcher and gateway goroutines.
	db.SetMaxOpenConns(1)

	// Create tables if not exist
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id TEXT,
			role TEXT,
			content TEXT,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS plans (
			id TEXT PRIMARY KEY,
			title TEXT,
			request TEXT,
			project_id TEXT,
			created_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS steps (
			plan_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			id TEXT NOT NULL,
			title TEXT,
			description TEXT,
			prompt TEXT,
			status TEXT,
			classification TEXT,
			message TEXT,
			suggestion TEXT,
			skipped INTEGER DEFAULT 0,
			output TEXT,
			attempts INTEGER DEFAULT 0,
			started_at DATETIME,
			finished_at DATETIME,
			PRIMARY KEY (plan_id, position)
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			plan_id TEXT,
			chat_id TEXT,
			mode TEXT,
			state TEXT,
			step_index INTEGER,
			updated_at DATETIME
		);`,
		`CREATE TABLE IF NOT EXISTS session_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			at DATETIME,
			text TEXT
		);`,
	}
	for _, q := range queries {
		_, err = db.Exec(q)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
	}

	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) AddMessage(chatID string, role string, content string) error {
	query := `INSERT INTO messages (chat_id, role, content) VALUES (?, ?, ?)`
	_, err := s.DB.Exec(query, chatID, role, content)
	return err
}

// GetHistory returns the last limit messages of a chat in chronological order.
func (s *Store) GetHistory(chatID string, limit int) ([]llms.MessageContent, error) {
	query := `SELECT role, content FROM messages WHERE chat_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := s.DB.Query(query, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []llms.MessageContent
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}

		var msgRole llms.ChatMessageType
		switch role {
		case "ai":
			msgRole = llms.ChatMessageTypeAI
		case "system":
			msgRole = llms.ChatMessageTypeSystem
		default:
			msgRole = llms.ChatMessageTypeHuman
		}

		history = append(history, llms.MessageContent{
			Role: msgRole,
			Parts: []llms.ContentPart{
				llms.TextPart(content),
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(history)-1; i < j; i, j = i+1, j-1 {
		history[i], history[j] = history[j], history[i]
	}

	return history, nil
}
