package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/rahul/planpilot/internal/plan"
)

// PlanSummary is a row of the plan listing.
type PlanSummary struct {
	ID        string
	Title     string
	Steps     int
	CreatedAt time.Time
}

// SessionRecord is the persisted view of a driver session.
type SessionRecord struct {
	ID        string
	PlanID    string
	ChatID    string
	Mode      plan.Mode
	State     plan.State
	Index     int
	UpdatedAt time.Time
}

// SavePlan writes the plan and all its steps, replacing any previous copy.
func (s *Store) SavePlan(p *plan.Plan) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT INTO plans (id, title, request, project_id, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, request = excluded.request, project_id = excluded.project_id`,
		p.ID, p.Title, p.Request, p.ProjectID, p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save plan %s: %w", p.ID, err)
	}
	if _, err := tx.Exec(`DELETE FROM steps WHERE plan_id = ?`, p.ID); err != nil {
		return err
	}
	for i, st := range p.Steps {
		if err := upsertStep(tx, p.ID, i, st); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveStep updates one step in place.
func (s *Store) SaveStep(planID string, index int, st plan.Step) error {
	return upsertStep(s.DB, planID, index, st)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func upsertStep(db execer, planID string, index int, st plan.Step) error {
	var class, msg, suggestion string
	if st.Result != nil {
		class, msg, suggestion = string(st.Result.Classification), st.Result.Message, st.Result.Suggestion
	}
	_, err := db.Exec(`INSERT INTO steps (plan_id, position, id, title, description, prompt, status,
			classification, message, suggestion, skipped, output, attempts, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plan_id, position) DO UPDATE SET
			id = excluded.id, title = excluded.title, description = excluded.description,
			prompt = excluded.prompt, status = excluded.status, classification = excluded.classification,
			message = excluded.message, suggestion = excluded.suggestion, skipped = excluded.skipped,
			output = excluded.output, attempts = excluded.attempts,
			started_at = excluded.started_at, finished_at = excluded.finished_at`,
		planID, index, st.ID, st.Title, st.Description, st.Prompt, string(st.Status),
		class, msg, suggestion, st.Skipped, st.Output, st.Attempts,
		nullTime(st.StartedAt), nullTime(st.FinishedAt))
	if err != nil {
		return fmt.Errorf("save step %s/%s: %w", planID, st.ID, err)
	}
	return nil
}

// LoadPlan reads a plan with its steps in execution order.
func (s *Store) LoadPlan(id string) (*plan.Plan, error) {
	p := &plan.Plan{ID: id}
	var created sql.NullTime
	err := s.DB.QueryRow(`SELECT title, request, project_id, created_at FROM plans WHERE id = ?`, id).
		Scan(&p.Title, &p.Request, &p.ProjectID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if created.Valid {
		p.CreatedAt = created.Time
	}

	rows, err := s.DB.Query(`SELECT id, title, description, prompt, status, classification, message,
			suggestion, skipped, output, attempts, started_at, finished_at
		FROM steps WHERE plan_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var st plan.Step
		var status, class, msg, suggestion string
		var started, finished sql.NullTime
		if err := rows.Scan(&st.ID, &st.Title, &st.Description, &st.Prompt, &status, &class, &msg,
			&suggestion, &st.Skipped, &st.Output, &st.Attempts, &started, &finished); err != nil {
			return nil, err
		}
		st.Status = plan.Status(status)
		if class != "" {
			st.Result = &plan.Result{Classification: plan.Classification(class), Message: msg, Suggestion: suggestion}
		}
		if started.Valid {
			st.StartedAt = started.Time
		}
		if finished.Valid {
			st.FinishedAt = finished.Time
		}
		p.Steps = append(p.Steps, st)
	}
	return p, rows.Err()
}

// ListPlans returns the most recent plans first.
func (s *Store) ListPlans(limit int) ([]PlanSummary, error) {
	rows, err := s.DB.Query(`SELECT p.id, p.title, p.created_at, COUNT(st.id)
		FROM plans p LEFT JOIN steps st ON st.plan_id = p.id
		GROUP BY p.id ORDER BY p.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlanSummary
	for rows.Next() {
		var ps PlanSummary
		var created sql.NullTime
		if err := rows.Scan(&ps.ID, &ps.Title, &created, &ps.Steps); err != nil {
			return nil, err
		}
		if created.Valid {
			ps.CreatedAt = created.Time
		}
		out = append(out, ps)
	}
	return out, rows.Err()
}

func (s *Store) SaveSession(rec SessionRecord) error {
	_, err := s.DB.Exec(`INSERT INTO sessions (id, plan_id, chat_id, mode, state, step_index, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET mode = excluded.mode, state = excluded.state,
			step_index = excluded.step_index, updated_at = excluded.updated_at`,
		rec.ID, rec.PlanID, rec.ChatID, string(rec.Mode), string(rec.State), rec.Index, rec.UpdatedAt.UTC())
	return err
}

func (s *Store) GetSession(id string) (SessionRecord, error) {
	rec := SessionRecord{ID: id}
	var mode, state string
	var updated sql.NullTime
	err := s.DB.QueryRow(`SELECT plan_id, chat_id, mode, state, step_index, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&rec.PlanID, &rec.ChatID, &mode, &state, &rec.Index, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return rec, err
	}
	rec.Mode, rec.State = plan.Mode(mode), plan.State(state)
	if updated.Valid {
		rec.UpdatedAt = updated.Time
	}
	return rec, nil
}

// AppendLog implements plan.LogSink. Write failures are logged, not returned.
func (s *Store) AppendLog(sessionID string, entry plan.LogEntry) {
	_, err := s.DB.Exec(`INSERT INTO session_logs (session_id, at, text) VALUES (?, ?, ?)`,
		sessionID, entry.At.UTC(), entry.Text)
	if err != nil {
		log.Printf("Warning: failed to persist log for session %s: %v", sessionID, err)
	}
}

// ListLogs returns a session's log in append order.
func (s *Store) ListLogs(sessionID string) ([]plan.LogEntry, error) {
	rows, err := s.DB.Query(`SELECT at, text FROM session_logs WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []plan.LogEntry
	for rows.Next() {
		var e plan.LogEntry
		if err := rows.Scan(&e.At, &e.Text); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
