package domain

import "time"

// Originator identifies who authored a message.
type Originator string

const (
	OriginatorUser      Originator = "user"
	OriginatorAssistant Originator = "assistant"
)

// Message is a single immutable conversation turn entry.
type Message struct {
	ID         string
	Content    string
	Originator Originator
	SentAt     time.Time
}
