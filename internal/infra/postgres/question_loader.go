package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"proctor-engine/internal/domain"
)

// QuestionLoader loads question-set JSONB from Postgres.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadQuestionSet(ctx context.Context, id string) (domain.QuestionSet, error) {
	var (
		kind, technology, difficulty string
		raw                          []byte
	)
	err := l.pool.QueryRow(ctx,
		`SELECT type, technology, difficulty, questions FROM question_sets WHERE id=$1`, id,
	).Scan(&kind, &technology, &difficulty, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuestionSet{}, fmt.Errorf("load question set %s: %w", id, domain.ErrQuestionSetNotFound)
	}
	if err != nil {
		return domain.QuestionSet{}, fmt.Errorf("load question set: %w", err)
	}

	set := domain.QuestionSet{
		ID:         id,
		Type:       domain.AssessmentType(kind),
		Technology: technology,
		Difficulty: difficulty,
	}
	if err := json.Unmarshal(raw, &set.Questions); err != nil {
		return domain.QuestionSet{}, fmt.Errorf("unmarshal question set: %w", err)
	}
	for i := range set.Questions {
		if set.Questions[i].Type == "" {
			set.Questions[i].Type = set.Type
		}
	}
	return set, nil
}
