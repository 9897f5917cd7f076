package meetings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/meetclaw/pkg/meetclaw/apperr"
	"github.com/jholhewres/meetclaw/pkg/meetclaw/database"
)

// Store is the persistence contract used by the lifecycle components.
type Store interface {
	CreateAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	ListAgents(ctx context.Context) ([]*Agent, error)

	CreateMeeting(ctx context.Context, m *Meeting) error
	GetMeeting(ctx context.Context, id string) (*Meeting, error)
	ListMeetings(ctx context.Context, f ListFilter) ([]*Meeting, error)

	// MarkActive moves an upcoming meeting to active. It reports whether a
	// row changed; an already active or ended meeting is left as is.
	MarkActive(ctx context.Context, id string, at time.Time) (bool, error)

	// MarkCompleted sets completed, clears agent_joined and keeps the first
	// ended_at ever recorded. Cancelled meetings are not touched. It reports
	// whether the status moved to completed on this call.
	MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error)

	// Cancel moves an upcoming meeting to cancelled.
	Cancel(ctx context.Context, id string) error

	// SetRecordingURL and SetTranscriptURL report whether the stored value
	// changed.
	SetRecordingURL(ctx context.Context, id, url string) (bool, error)
	SetTranscriptURL(ctx context.Context, id, url string) (bool, error)

	// TryMarkAgentJoined flips agent_joined false->true. Exactly one caller
	// per meeting observes true until the flag is reset.
	TryMarkAgentJoined(ctx context.Context, id string) (bool, error)

	// ResetAgentJoined clears agent_joined.
	ResetAgentJoined(ctx context.Context, id string) error
}

// SQLStore implements Store on a database.Backend.
type SQLStore struct {
	backend *database.Backend
	now     func() time.Time
}

// NewSQLStore creates a store on the given backend. The schema must already
// be migrated.
func NewSQLStore(backend *database.Backend) *SQLStore {
	return &SQLStore{backend: backend, now: time.Now}
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.backend.DB.ExecContext(ctx, s.backend.Rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.backend.DB.QueryContext(ctx, s.backend.Rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.backend.DB.QueryRowContext(ctx, s.backend.Rebind(query), args...)
}

// ---------- Agents ----------

func (s *SQLStore) CreateAgent(ctx context.Context, a *Agent) error {
	if strings.TrimSpace(a.Name) == "" {
		return apperr.Validation("agent name is required")
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO agents (id, name, instructions, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.Name, a.Instructions, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var a Agent
	err := s.queryRow(ctx,
		`SELECT id, name, instructions, created_at FROM agents WHERE id = ?`, id,
	).Scan(&a.ID, &a.Name, &a.Instructions, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("agent %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &a, nil
}

func (s *SQLStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.query(ctx, `SELECT id, name, instructions, created_at FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.ID, &a.Name, &a.Instructions, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// ---------- Meetings ----------

const meetingColumns = `id, name, user_id, agent_id, status, agent_joined,
	recording_url, transcript_url, started_at, ended_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(r rowScanner) (*Meeting, error) {
	var (
		m                           Meeting
		status                      string
		recordingURL, transcriptURL sql.NullString
		startedAt, endedAt          sql.NullTime
	)
	if err := r.Scan(&m.ID, &m.Name, &m.UserID, &m.AgentID, &status, &m.AgentJoined,
		&recordingURL, &transcriptURL, &startedAt, &endedAt, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Status = Status(status)
	m.RecordingURL = recordingURL.String
	m.TranscriptURL = transcriptURL.String
	if startedAt.Valid {
		t := startedAt.Time
		m.StartedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		m.EndedAt = &t
	}
	return &m, nil
}

func (s *SQLStore) CreateMeeting(ctx context.Context, m *Meeting) error {
	if strings.TrimSpace(m.Name) == "" {
		return apperr.Validation("meeting name is required")
	}
	if m.AgentID == "" {
		return apperr.Validation("agentId is required")
	}
	if _, err := s.GetAgent(ctx, m.AgentID); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := s.now().UTC()
	m.Status = StatusUpcoming
	m.AgentJoined = false
	m.CreatedAt = now
	m.UpdatedAt = now

	_, err := s.exec(ctx,
		`INSERT INTO meetings (id, name, user_id, agent_id, status, agent_joined, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.UserID, m.AgentID, string(m.Status), false, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

func (s *SQLStore) GetMeeting(ctx context.Context, id string) (*Meeting, error) {
	m, err := scanMeeting(s.queryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("meeting %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	return m, nil
}

func (s *SQLStore) ListMeetings(ctx context.Context, f ListFilter) ([]*Meeting, error) {
	q := `SELECT ` + meetingColumns + ` FROM meetings WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.AgentID != "" {
		q += ` AND agent_id = ?`
		args = append(args, f.AgentID)
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list meetings: %w", err)
	}
	defer rows.Close()

	var out []*Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meeting: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLStore) MarkActive(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE meetings SET status = ?, started_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusActive), at.UTC(), s.now().UTC(), id, string(StatusUpcoming))
	if err != nil {
		return false, fmt.Errorf("mark active: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark active: %w", err)
	}
	if n == 0 {
		if _, err := s.GetMeeting(ctx, id); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

func (s *SQLStore) MarkCompleted(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE meetings SET status = ?, ended_at = COALESCE(ended_at, ?), agent_joined = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(StatusCompleted), at.UTC(), false, s.now().UTC(), id,
		string(StatusUpcoming), string(StatusActive))
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	// Already completed: repeat the flag and ended_at writes without
	// reporting a transition.
	if _, err := s.exec(ctx,
		`UPDATE meetings SET ended_at = COALESCE(ended_at, ?), agent_joined = ?
		 WHERE id = ? AND status = ?`,
		at.UTC(), false, id, string(StatusCompleted)); err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	if _, err := s.GetMeeting(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) Cancel(ctx context.Context, id string) error {
	res, err := s.exec(ctx,
		`UPDATE meetings SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(StatusCancelled), s.now().UTC(), id, string(StatusUpcoming))
	if err != nil {
		return fmt.Errorf("cancel meeting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		m, err := s.GetMeeting(ctx, id)
		if err != nil {
			return err
		}
		if m.Status == StatusCancelled {
			return nil
		}
		return apperr.Conflict("meeting %s is %s and cannot be cancelled", id, m.Status)
	}
	return nil
}

func (s *SQLStore) SetRecordingURL(ctx context.Context, id, url string) (bool, error) {
	return s.setURL(ctx, "recording_url", id, url)
}

func (s *SQLStore) SetTranscriptURL(ctx context.Context, id, url string) (bool, error) {
	return s.setURL(ctx, "transcript_url", id, url)
}

func (s *SQLStore) setURL(ctx context.Context, column, id, url string) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE meetings SET `+column+` = ?, updated_at = ?
		 WHERE id = ? AND (`+column+` IS NULL OR `+column+` <> ?)`,
		url, s.now().UTC(), id, url)
	if err != nil {
		return false, fmt.Errorf("set %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set %s: %w", column, err)
	}
	if n == 0 {
		if _, err := s.GetMeeting(ctx, id); err != nil {
			return false, err
		}
	}
	return n == 1, nil
}

func (s *SQLStore) TryMarkAgentJoined(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx,
		`UPDATE meetings SET agent_joined = ?, updated_at = ? WHERE id = ? AND agent_joined = ?`,
		true, s.now().UTC(), id, false)
	if err != nil {
		return false, fmt.Errorf("mark agent joined: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark agent joined: %w", err)
	}
	return n == 1, nil
}

func (s *SQLStore) ResetAgentJoined(ctx context.Context, id string) error {
	if _, err := s.exec(ctx,
		`UPDATE meetings SET agent_joined = ?, updated_at = ? WHERE id = ?`,
		false, s.now().UTC(), id); err != nil {
		return fmt.Errorf("reset agent joined: %w", err)
	}
	return nil
}
