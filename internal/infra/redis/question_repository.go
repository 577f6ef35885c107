package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"proctor-engine/internal/config"
	"proctor-engine/internal/domain"
	"proctor-engine/internal/infra/memory"
)

// QuestionRepository caches question sets in Redis as JSON (one key per set) and falls back to a
// loader on cache miss.
type QuestionRepository struct {
	client *redis.Client
	loader memory.QuestionSetLoader
	keys   config.Keys
	ttl    time.Duration
	log    zerolog.Logger
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionRepository(client *redis.Client, loader memory.QuestionSetLoader, keys config.Keys, ttl time.Duration, log zerolog.Logger) *QuestionRepository {
	return &QuestionRepository{
		client: client,
		loader: loader,
		keys:   keys,
		ttl:    ttl,
		log:    log.With().Str("component", "redis_questions").Logger(),
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuestionRepository) GetQuestionSet(ctx context.Context, id string) (domain.QuestionSet, error) {
	if set, ok := r.cached(ctx, id); ok {
		return set, nil
	}

	result, err, _ := r.sf.Do(id, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if set, ok := r.cached(ctx, id); ok {
			return set, nil
		}
		set, err := r.loader.LoadQuestionSet(ctx, id)
		if err != nil {
			return domain.QuestionSet{}, err
		}
		if raw, err := json.Marshal(set); err == nil {
			if err := r.client.Set(ctx, r.keys.QuestionSet(id), raw, r.ttlWithJitter()).Err(); err != nil {
				r.log.Warn().Err(err).Str("set", id).Msg("cache question set")
			}
		}
		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

func (r *QuestionRepository) cached(ctx context.Context, id string) (domain.QuestionSet, bool) {
	raw, err := r.client.Get(ctx, r.keys.QuestionSet(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Debug().Err(err).Str("set", id).Msg("question cache read")
		}
		return domain.QuestionSet{}, false
	}
	var set domain.QuestionSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return domain.QuestionSet{}, false
	}
	return set, true
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
