package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session is registered under an ID.
	ErrSessionNotFound = errors.New("assessment session not found")
	// ErrQuestionSetNotFound indicates the question set could not be loaded.
	ErrQuestionSetNotFound = errors.New("question set not found")
	// ErrQuestionNotFound indicates a question ID is not part of the session.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrIndexOutOfRange is returned by navigation past either end.
	ErrIndexOutOfRange = errors.New("question index out of range")
	// ErrOptionOutOfRange indicates an MCQ selection outside the option list.
	ErrOptionOutOfRange = errors.New("option index out of range")
	// ErrInvalidTransition is returned when an operation is not allowed in the current status.
	ErrInvalidTransition = errors.New("operation not allowed in current session status")
	// ErrAlreadySubmitted is returned to the losing trigger of a submission race.
	ErrAlreadySubmitted = errors.New("session already submitted")
	// ErrWrongAssessmentType is returned for operations that belong to another assessment type.
	ErrWrongAssessmentType = errors.New("operation not supported for this assessment type")
	// ErrUnknownAssessmentType rejects launch requests with an unknown type.
	ErrUnknownAssessmentType = errors.New("unknown assessment type")
	// ErrRecognitionUnavailable blocks interview start when speech recognition is missing.
	ErrRecognitionUnavailable = errors.New("speech recognition unavailable")
	// ErrSynthesisUnavailable is returned by synthesizers that cannot speak.
	ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")
	// ErrPermissionDenied is returned by media capture when the candidate refuses access.
	ErrPermissionDenied = errors.New("media permission denied")
	// ErrSpeaking refuses a listen request while the system prompt is being spoken.
	ErrSpeaking = errors.New("cannot listen while speaking")
	// ErrLockdownHeld is returned when another session owns the lockdown.
	ErrLockdownHeld = errors.New("lockdown owned by another session")
	// ErrTokenReleased is returned by a lockdown token after release.
	ErrTokenReleased = errors.New("lockdown token released")
)
