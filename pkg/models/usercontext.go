package models

import "time"

// ContextSource ranks how much a memory write is trusted. Writes from a
// lower-ranked source never overwrite a higher-ranked value for the same key.
type ContextSource string

const (
	SourceUserStated   ContextSource = "user_stated"
	SourceConversation ContextSource = "conversation"
	SourceFeedback     ContextSource = "feedback"
	SourcePattern      ContextSource = "pattern"
)

// Rank orders sources; higher wins an upsert.
func (s ContextSource) Rank() int {
	switch s {
	case SourceUserStated:
		return 4
	case SourceConversation:
		return 3
	case SourceFeedback:
		return 2
	case SourcePattern:
		return 1
	}
	return 0
}

// Context namespaces.
const (
	NamespaceProfile      = "profile"
	NamespaceTone         = "tone"
	NamespaceFacts        = "facts"
	NamespaceInstructions = "instructions"
	NamespacePreferences  = "preferences"
)

// ContextEntry is one namespaced user memory, e.g. profile/role or
// tone/slack. Confidence grades how certain the write is, 0 to 1.
type ContextEntry struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	Namespace  string        `json:"namespace"`
	Key        string        `json:"key"`
	Value      string        `json:"value"`
	Source     ContextSource `json:"source"`
	Confidence float64       `json:"confidence"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}
