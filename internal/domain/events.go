package domain

// EventType names the notifications a session publishes to its UI.
type EventType string

const (
	EventStatus       EventType = "status"
	EventQuestion     EventType = "question"
	EventTick         EventType = "tick"
	EventQuestionTick EventType = "questionTick"
	EventAnswer       EventType = "answer"
	EventLanguage     EventType = "language"
	EventPreview      EventType = "transcriptPreview"
	EventTranscript   EventType = "transcript"
	EventSpeak        EventType = "speak"
	EventListen       EventType = "listen"
	EventJudge        EventType = "judgeResult"
	EventViolation    EventType = "violation"
	EventWarning      EventType = "warning"
	EventNotice       EventType = "notice"
	EventSubmitted    EventType = "submitted"
	EventClosed       EventType = "closed"
)

// Event is one notification. Payload is JSON-encodable.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// StatusPayload accompanies EventStatus.
type StatusPayload struct {
	Status Status `json:"status"`
}

// QuestionPayload accompanies EventQuestion.
type QuestionPayload struct {
	Index    int              `json:"index"`
	Total    int              `json:"total"`
	Question Question         `json:"question"`
	Answer   string           `json:"answer"`
	Language string           `json:"language,omitempty"`
	Overview []QuestionStatus `json:"overview"`
}

// TickPayload accompanies EventTick and EventQuestionTick.
type TickPayload struct {
	Remaining int `json:"remaining"`
}

// NoticePayload accompanies EventWarning and EventNotice.
type NoticePayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SubmittedPayload accompanies EventSubmitted.
type SubmittedPayload struct {
	Submission Submission `json:"submission"`
	AckMillis  int64      `json:"ackMillis"`
}
