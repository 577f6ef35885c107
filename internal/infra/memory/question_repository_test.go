package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"proctor-engine/internal/domain"
)

func TestQuestionRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		QuestionSetLoader: NewStaticQuestionLoader(map[string]domain.QuestionSet{
			"set-1": sampleSet(),
		}),
	}
	repo := NewQuestionRepository(loader, time.Minute)

	set, err := repo.GetQuestionSet(context.Background(), "set-1")
	if err != nil {
		t.Fatalf("get set: %v", err)
	}
	if len(set.Questions) != 1 || loader.count() != 1 {
		t.Fatalf("expected loader once, got %d", loader.count())
	}

	if _, err := repo.GetQuestionSet(context.Background(), "set-1"); err != nil {
		t.Fatalf("get set 2: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.count())
	}
}

func TestQuestionRepositoryExpires(t *testing.T) {
	loader := &countingLoader{QuestionSetLoader: NewStaticQuestionLoader(map[string]domain.QuestionSet{"set-1": sampleSet()})}
	repo := NewQuestionRepository(loader, time.Minute)
	now := time.Now()
	repo.clock = func() time.Time { return now }

	_, _ = repo.GetQuestionSet(context.Background(), "set-1")
	now = now.Add(2 * time.Minute)
	_, _ = repo.GetQuestionSet(context.Background(), "set-1")
	if loader.count() != 2 {
		t.Fatalf("expected reload after ttl, loader calls %d", loader.count())
	}
}

func TestQuestionRepositoryMissing(t *testing.T) {
	repo := NewQuestionRepository(NewStaticQuestionLoader(nil), time.Minute)
	if _, err := repo.GetQuestionSet(context.Background(), "nope"); !errors.Is(err, domain.ErrQuestionSetNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type countingLoader struct {
	QuestionSetLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadQuestionSet(ctx context.Context, id string) (domain.QuestionSet, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.QuestionSetLoader.LoadQuestionSet(ctx, id)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleSet() domain.QuestionSet {
	correct := 1
	return domain.QuestionSet{
		ID:         "set-1",
		Type:       domain.AssessmentMCQ,
		Technology: "Go",
		Questions: []domain.Question{{
			ID:           "q1",
			Type:         domain.AssessmentMCQ,
			Prompt:       "What is 2 + 2?",
			Options:      []string{"3", "4"},
			CorrectIndex: &correct,
		}},
	}
}
