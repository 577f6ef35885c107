package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"proctor-engine/internal/domain"
)

// HistoryStore records finished sessions as practice history.
type HistoryStore struct {
	pool *pgxpool.Pool
}

func NewHistoryStore(pool *pgxpool.Pool) *HistoryStore {
	return &HistoryStore{pool: pool}
}

// Save inserts the submission once; a repeated save of the same session is ignored.
func (s *HistoryStore) Save(ctx context.Context, sub domain.Submission) error {
	questions, err := json.Marshal(sub.Questions)
	if err != nil {
		return fmt.Errorf("marshal submitted questions: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO practice_sessions
	(session_id, candidate_id, type, technologies, difficulty, score, total_questions,
	 percentage, time_spent_minutes, violations, reason, feedback, questions, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14)
ON CONFLICT (session_id) DO NOTHING`,
		sub.SessionID, sub.CandidateID, string(sub.Type), sub.Technologies, sub.Difficulty,
		sub.Score, sub.TotalQuestions, sub.Percentage(), sub.TimeSpent, sub.Violations,
		string(sub.Reason), sub.Feedback, string(questions), sub.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert practice session: %w", err)
	}
	return nil
}

// PracticeSession is one row of a candidate's history.
type PracticeSession struct {
	SessionID  string                `json:"sessionId"`
	Type       domain.AssessmentType `json:"type"`
	Score      int                   `json:"score"`
	Total      int                   `json:"totalQuestions"`
	Percentage int                   `json:"percentage"`
	TimeSpent  int                   `json:"timeSpent"`
}

// List returns the candidate's sessions, newest first.
func (s *HistoryStore) List(ctx context.Context, candidateID string, limit int) ([]PracticeSession, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
SELECT session_id, type, score, total_questions, percentage, time_spent_minutes
FROM practice_sessions WHERE candidate_id=$1 ORDER BY completed_at DESC LIMIT $2`, candidateID, limit)
	if err != nil {
		return nil, fmt.Errorf("list practice sessions: %w", err)
	}
	defer rows.Close()

	var out []PracticeSession
	for rows.Next() {
		var p PracticeSession
		var kind string
		if err := rows.Scan(&p.SessionID, &kind, &p.Score, &p.Total, &p.Percentage, &p.TimeSpent); err != nil {
			return nil, fmt.Errorf("scan practice session: %w", err)
		}
		p.Type = domain.AssessmentType(kind)
		out = append(out, p)
	}
	return out, rows.Err()
}
