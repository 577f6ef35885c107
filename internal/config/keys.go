package config

import "fmt"

// Keys builds the durable storage keys. Every session-scoped key embeds the scope so unrelated
// sessions cannot collide.
type Keys struct {
	prefix string
}

func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = "proctor"
	}
	return Keys{prefix: prefix}
}

// Scope identifies one candidate's run of one assessment type.
func (k Keys) Scope(candidateID, assessmentType string) string {
	return fmt.Sprintf("candidate:%s:%s", candidateID, assessmentType)
}

// TimerRemaining holds the global countdown's remaining seconds.
func (k Keys) TimerRemaining(scope string) string {
	return fmt.Sprintf("%s:%s:timer:remaining", k.prefix, scope)
}

// Answers holds the JSON answer map of one language.
func (k Keys) Answers(scope, language string) string {
	return fmt.Sprintf("%s:%s:answers:%s", k.prefix, scope, language)
}

// SessionID holds the stable session identifier reused across reloads.
func (k Keys) SessionID(scope string) string {
	return fmt.Sprintf("%s:%s:session_id", k.prefix, scope)
}

// SessionLiveness marks a session as running somewhere.
func (k Keys) SessionLiveness(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", k.prefix, sessionID)
}

// QuestionSet caches a loaded question set.
func (k Keys) QuestionSet(setID string) string {
	return fmt.Sprintf("%s:questions:%s", k.prefix, setID)
}
