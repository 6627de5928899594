package domain

import "time"

// ConversationSummary is the listing entry for a conversation.
type ConversationSummary struct {
	ID            string
	Title         string
	LastUpdatedAt time.Time
}

// Conversation is the expanded form of a summary, messages in turn order.
type Conversation struct {
	ID        string
	Title     string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary returns the listing view of c.
func (c Conversation) Summary() ConversationSummary {
	return ConversationSummary{ID: c.ID, Title: c.Title, LastUpdatedAt: c.UpdatedAt}
}
