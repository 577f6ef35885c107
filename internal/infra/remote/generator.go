package remote

import (
	"context"
	"encoding/json"
	"fmt"

	"proctor-engine/internal/app"
	"proctor-engine/internal/domain"
)

// Generator asks the question generation service for fresh questions. Requests go to
// {url}/{type}; the reply is either a JSON array or an object wrapping one.
type Generator struct {
	base
}

func NewGenerator(url string, opts ...Option) *Generator {
	return &Generator{base: newBase(url, opts)}
}

func (g *Generator) Generate(ctx context.Context, req domain.GenerateRequest) ([]app.RawQuestion, error) {
	data, err := g.postJSON(ctx, g.url+"/"+string(req.Type), req)
	if err != nil {
		return nil, fmt.Errorf("generate %s questions: %w", req.Type, err)
	}
	return decodeQuestions(data)
}

func decodeQuestions(data []byte) ([]app.RawQuestion, error) {
	var list []app.RawQuestion
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode generated questions: %w", err)
	}
	for _, key := range []string{"questions", "problems", "data", "items"} {
		raw, ok := wrapped[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &list); err == nil {
			return list, nil
		}
	}
	return nil, fmt.Errorf("decode generated questions: no question list in reply")
}
