package handler

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"cinchat/internal/domain"
)

// ConsoleNotifier prints notifications as one line each, green for info and
// red for errors.
type ConsoleNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleNotifier(out io.Writer) *ConsoleNotifier {
	return &ConsoleNotifier{out: out}
}

func (n *ConsoleNotifier) Notify(note domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	title := color.GreenString(note.Title)
	if note.Severity == domain.SeverityError {
		title = color.RedString(note.Title)
	}
	if note.Description == "" {
		fmt.Fprintln(n.out, title)
		return
	}
	fmt.Fprintf(n.out, "%s: %s\n", title, note.Description)
}
