package handler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cinchat/internal/domain"
	"cinchat/internal/usecase"
)

// Session is the part of the session manager the CLI drives.
type Session interface {
	Identity() (domain.Identity, bool)
	Login(ctx context.Context, email, password string) error
	Register(ctx context.Context, email, password, confirmPassword string) error
	ResetPassword(ctx context.Context, email, newPassword string) error
	Logout(ctx context.Context)
	DeleteAccount(ctx context.Context) error
}

// Conversations is the part of the conversation store the CLI drives.
type Conversations interface {
	Summaries() []domain.ConversationSummary
	Active() (domain.Conversation, bool)
	FetchSummaries(ctx context.Context) error
	FetchConversation(ctx context.Context, id string) error
	CreateConversation(ctx context.Context, initialQuestion string) (string, error)
	SendMessage(ctx context.Context, conversationID, content string) error
	DeleteConversation(ctx context.Context, id string) error
}

// ErrReported marks failures whose outcome was already shown to the user.
var ErrReported = errors.New("handler: operation failed")

// CLI renders the session and conversation state as cobra commands.
type CLI struct {
	session  Session
	chats    Conversations
	notifier usecase.Notifier
	in       *bufio.Reader

	// readSecret prompts for a password; replaced in tests.
	readSecret func(prompt string) (string, error)
}

func NewCLI(session Session, chats Conversations, notifier usecase.Notifier) (*CLI, error) {
	if session == nil {
		return nil, errors.New("handler: session must not be nil")
	}
	if chats == nil {
		return nil, errors.New("handler: conversations must not be nil")
	}
	if notifier == nil {
		return nil, errors.New("handler: notifier must not be nil")
	}
	c := &CLI{session: session, chats: chats, notifier: notifier, in: bufio.NewReader(os.Stdin)}
	c.readSecret = c.promptSecret
	return c, nil
}

// Command builds the root command.
func (c *CLI) Command() *cobra.Command {
	root := &cobra.Command{
		Use:           "cinchat",
		Short:         "CIn Chat client",
		Long:          "Ask the CIn assistant questions and manage your chat history from the terminal.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(
		c.loginCmd(),
		c.registerCmd(),
		c.resetPasswordCmd(),
		c.logoutCmd(),
		c.deleteAccountCmd(),
		c.whoamiCmd(),
		c.chatsCmd(),
	)
	return root
}

func (c *CLI) loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Log in with your institutional email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := c.secret(password, "Password: ")
			if err != nil {
				return err
			}
			return reported(c.session.Login(cmd.Context(), args[0], pw))
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func (c *CLI) registerCmd() *cobra.Command {
	var password, confirm string
	cmd := &cobra.Command{
		Use:   "register <email>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := c.secret(password, "Password: ")
			if err != nil {
				return err
			}
			again, err := c.secret(confirm, "Confirm password: ")
			if err != nil {
				return err
			}
			return reported(c.session.Register(cmd.Context(), args[0], pw, again))
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	cmd.Flags().StringVar(&confirm, "confirm", "", "Password confirmation (prompted when omitted)")
	return cmd
}

func (c *CLI) resetPasswordCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "reset-password <email>",
		Short: "Set a new password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := c.secret(password, "New password: ")
			if err != nil {
				return err
			}
			return reported(c.session.ResetPassword(cmd.Context(), args[0], pw))
		},
	}
	cmd.Flags().StringVarP(&password, "new-password", "p", "", "New password (prompted when omitted)")
	return cmd
}

func (c *CLI) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			c.session.Logout(cmd.Context())
		},
	}
}

func (c *CLI) deleteAccountCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-account",
		Short: "Delete your account and log out",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to delete the account without --yes")
			}
			if err := c.session.DeleteAccount(cmd.Context()); err != nil {
				return reported(err)
			}
			c.session.Logout(cmd.Context())
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm account deletion")
	return cmd
}

func (c *CLI) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, ok := c.session.Identity()
			if !ok {
				return c.notLoggedIn()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", id.Email, id.UserID)
			return nil
		},
	}
}

func (c *CLI) chatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List, open and manage conversations",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if _, ok := c.session.Identity(); !ok {
				return c.notLoggedIn()
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.chats.FetchSummaries(cmd.Context()); err != nil {
				return reported(err)
			}
			renderSummaries(cmd.OutOrStdout(), c.chats.Summaries())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Show a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.chats.FetchConversation(cmd.Context(), args[0]); err != nil {
				return reported(err)
			}
			c.renderActive(cmd.OutOrStdout())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "new <question>",
		Short: "Start a conversation with a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := c.chats.CreateConversation(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return reported(err)
			}
			if err := c.chats.FetchConversation(cmd.Context(), id); err != nil {
				return reported(err)
			}
			c.renderActive(cmd.OutOrStdout())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "send <id> <message>",
		Short: "Send a message to a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.chats.SendMessage(cmd.Context(), args[0], strings.Join(args[1:], " ")); err != nil {
				return reported(err)
			}
			c.renderActive(cmd.OutOrStdout())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return reported(c.chats.DeleteConversation(cmd.Context(), args[0]))
		},
	})

	return cmd
}

func (c *CLI) notLoggedIn() error {
	c.notifier.Notify(domain.Notification{
		Title:       "Not logged in",
		Description: "Run `cinchat login <email>` first.",
		Severity:    domain.SeverityError,
	})
	return ErrReported
}

func (c *CLI) renderActive(w io.Writer) {
	conv, ok := c.chats.Active()
	if !ok {
		return
	}
	renderConversation(w, conv)
}

// secret returns flagValue or prompts for it.
func (c *CLI) secret(flagValue, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	return c.readSecret(prompt)
}

func (c *CLI) promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		buf, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("handler: read password: %w", err)
		}
		return string(buf), nil
	}
	line, err := c.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("handler: read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// reported wraps an operation error that has already been notified.
func reported(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrReported, err)
}

func renderSummaries(w io.Writer, list []domain.ConversationSummary) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No conversations yet. Start one with `cinchat chats new <question>`.")
		return
	}
	for _, s := range list {
		fmt.Fprintf(w, "%s  %s  %s\n", color.CyanString(s.ID), s.Title, formatTime(s.LastUpdatedAt))
	}
}

func renderConversation(w io.Writer, conv domain.Conversation) {
	fmt.Fprintln(w, color.CyanString(conv.Title))
	fmt.Fprintln(w, strings.Repeat("─", 60))
	for _, m := range conv.Messages {
		who := color.YellowString("assistant")
		if m.Originator == domain.OriginatorUser {
			who = color.BlueString("you")
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", formatTime(m.SentAt), who, m.Content)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("02/01/2006 15:04")
}
