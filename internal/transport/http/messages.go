package http

import (
	"encoding/json"

	"proctor-engine/internal/domain"
)

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}

type launchPayload struct {
	Type          domain.AssessmentType `json:"type"`
	Technology    string                `json:"technology"`
	Difficulty    string                `json:"difficulty"`
	Count         int                   `json:"count"`
	QuestionSetID string                `json:"questionSetId"`
	Language      string                `json:"language"`
	Questions     []domain.Question     `json:"questions"`
	Recognition   *bool                 `json:"recognition"`
	Synthesis     *bool                 `json:"synthesis"`
}

// answerPayload carries either an MCQ option or editor contents.
type answerPayload struct {
	QuestionID string  `json:"questionId"`
	Option     *int    `json:"option"`
	Code       *string `json:"code"`
}

type navigatePayload struct {
	Direction string `json:"direction"`
	Index     *int   `json:"index"`
}

type languagePayload struct {
	Language string `json:"language"`
}

type runPayload struct {
	Input string `json:"input"`
}

type speakEndPayload struct {
	UtteranceID string `json:"utteranceId"`
}

type recognitionPayload struct {
	ListenID string `json:"listenId"`
	Text     string `json:"text"`
	Final    bool   `json:"final"`
}

type permissionPayload struct {
	Granted bool `json:"granted"`
}

type violationPayload struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

type launchedPayload struct {
	SessionID string                `json:"sessionId"`
	Type      domain.AssessmentType `json:"type"`
}
