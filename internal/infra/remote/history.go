package remote

import (
	"context"
	"fmt"

	"proctor-engine/internal/domain"
)

// History records finished sessions with the practice history service.
type History struct {
	base
}

func NewHistory(url string, opts ...Option) *History {
	return &History{base: newBase(url, opts)}
}

type saveSessionRequest struct {
	domain.Submission
	Percentage int `json:"percentage"`
}

func (h *History) Save(ctx context.Context, sub domain.Submission) error {
	if _, err := h.postJSON(ctx, h.url, saveSessionRequest{Submission: sub, Percentage: sub.Percentage()}); err != nil {
		return fmt.Errorf("save practice session: %w", err)
	}
	return nil
}
