package domain

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityError Severity = "error"
)

// Notification is the short user-facing outcome of an operation.
type Notification struct {
	Title       string
	Description string
	Severity    Severity
}
