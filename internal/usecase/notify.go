package usecase

import "cinchat/internal/domain"

// Notifier receives the user-facing outcome of every operation.
type Notifier interface {
	Notify(n domain.Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(domain.Notification)

func (f NotifierFunc) Notify(n domain.Notification) { f(n) }

type discardNotifier struct{}

func (discardNotifier) Notify(domain.Notification) {}

const (
	titleConnectionError = "Connection error"
	descConnectionError  = "Could not connect to the server."
)

func info(title, description string) domain.Notification {
	return domain.Notification{Title: title, Description: description, Severity: domain.SeverityInfo}
}

func failure(title, description string) domain.Notification {
	return domain.Notification{Title: title, Description: description, Severity: domain.SeverityError}
}

// rejectionOrTransport builds the notification for a failed remote call:
// the server message (or fallback) when the service answered, the
// connectivity message otherwise.
func rejectionOrTransport(err error, title, fallback string) domain.Notification {
	if !serverAnswered(err) {
		return failure(titleConnectionError, descConnectionError)
	}
	if msg := serverMessage(err); msg != "" {
		return failure(title, msg)
	}
	return failure(title, fallback)
}

// classify maps a remote call error to the usecase taxonomy.
func classify(err error, reason string) *Error {
	if serverAnswered(err) {
		return newError(ErrorRejected, reason, err)
	}
	return newError(ErrorTransport, reason, err)
}
