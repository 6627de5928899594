package usecase

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"

	"cinchat/internal/domain"
)

const (
	statusUnauthorized = 401
	statusNotFound     = 404
)

type ChatAPI interface {
	ListChats(ctx context.Context, token string) ([]domain.ConversationSummary, error)
	GetChat(ctx context.Context, token, id string) (domain.Conversation, error)
	CreateChat(ctx context.Context, token, question string) (string, error)
	SendMessage(ctx context.Context, token, id, message string) error
	DeleteChat(ctx context.Context, token, id string) error
}

// CredentialSource supplies the bearer token conversation calls run under.
// *SessionManager satisfies it.
type CredentialSource interface {
	Token() string
}

// ConversationStore caches the conversation list and the active
// conversation for the current credential.
//
// Every fetch takes a generation number per target (the summary list, the
// active conversation). A response is applied only while its generation is
// still the latest one, so the most recently requested fetch wins even when
// responses arrive out of order. The cache is tagged with the token it was
// filled under and reads as empty once that token is no longer current.
type ConversationStore struct {
	api       ChatAPI
	creds     CredentialSource
	notifier  Notifier
	logger    *slog.Logger
	onExpired func(ctx context.Context, token string)

	mu           sync.Mutex
	owner        string
	summaries    map[string]domain.ConversationSummary
	active       *domain.Conversation
	summariesGen uint64
	activeGen    uint64
	activeTarget string
	inFlight     int
}

type StoreOption func(*ConversationStore)

func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *ConversationStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithExpiryHandler registers the hook run when the service rejects the
// credential with 401. The store itself never clears the identity.
func WithExpiryHandler(fn func(ctx context.Context, token string)) StoreOption {
	return func(s *ConversationStore) {
		s.onExpired = fn
	}
}

func NewConversationStore(api ChatAPI, creds CredentialSource, notifier Notifier, opts ...StoreOption) (*ConversationStore, error) {
	if api == nil {
		return nil, errors.New("usecase: chat api must not be nil")
	}
	if creds == nil {
		return nil, errors.New("usecase: credential source must not be nil")
	}
	if notifier == nil {
		notifier = discardNotifier{}
	}
	s := &ConversationStore{
		api:       api,
		creds:     creds,
		notifier:  notifier,
		logger:    slog.Default(),
		summaries: map[string]domain.ConversationSummary{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Summaries returns the cached listing, most recently updated first.
func (s *ConversationStore) Summaries() []domain.ConversationSummary {
	token := s.creds.Token()
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" || token != s.owner {
		return nil
	}
	out := make([]domain.ConversationSummary, 0, len(s.summaries))
	for _, c := range s.summaries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdatedAt.Equal(out[j].LastUpdatedAt) {
			return out[i].LastUpdatedAt.After(out[j].LastUpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Active returns the conversation currently displayed, if any.
func (s *ConversationStore) Active() (domain.Conversation, bool) {
	token := s.creds.Token()
	s.mu.Lock()
	defer s.mu.Unlock()
	if token == "" || token != s.owner || s.active == nil {
		return domain.Conversation{}, false
	}
	conv := *s.active
	conv.Messages = slices.Clone(s.active.Messages)
	return conv, true
}

// Loading reports whether a fetch is in flight.
func (s *ConversationStore) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight > 0
}

// ClearActive unsets the active conversation and discards any pending fetch
// for it.
func (s *ConversationStore) ClearActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
	s.activeTarget = ""
	s.activeGen++
}

// FetchSummaries replaces the whole summary cache with the service listing.
func (s *ConversationStore) FetchSummaries(ctx context.Context) error {
	token := s.creds.Token()
	if token == "" {
		return ErrNoIdentity
	}

	s.mu.Lock()
	s.adopt(token)
	s.summariesGen++
	gen := s.summariesGen
	s.inFlight++
	s.mu.Unlock()
	defer s.done()

	list, err := s.api.ListChats(ctx, token)
	if err != nil {
		return s.fail(ctx, token, err, "list_chats_failed", "Could not load chats", "Could not load the chats.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.owner || gen != s.summariesGen {
		s.logger.Debug("discarding stale chat listing", "generation", gen)
		return nil
	}
	s.summaries = make(map[string]domain.ConversationSummary, len(list))
	for _, c := range list {
		s.summaries[c.ID] = c
	}
	return nil
}

// FetchConversation replaces the active conversation with the service copy
// of id. A missing conversation leaves nothing active.
func (s *ConversationStore) FetchConversation(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		s.notifier.Notify(failure("Chat not found", "A chat id is required."))
		return newError(ErrorValidation, "missing_chat_id", nil)
	}
	token := s.creds.Token()
	if token == "" {
		return ErrNoIdentity
	}

	s.mu.Lock()
	s.adopt(token)
	s.activeGen++
	gen := s.activeGen
	s.activeTarget = id
	s.inFlight++
	s.mu.Unlock()
	defer s.done()

	conv, err := s.api.GetChat(ctx, token, id)
	if status, ok := upstreamStatusCode(err); ok && status == statusNotFound {
		s.mu.Lock()
		if token == s.owner && gen == s.activeGen {
			s.active = nil
		}
		s.mu.Unlock()
		s.notifier.Notify(failure("Chat not found", "The requested chat does not exist."))
		return newError(ErrorRejected, "chat_not_found", err)
	}
	if err != nil {
		return s.fail(ctx, token, err, "get_chat_failed", "Could not load chat", "Could not load the chat.")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token != s.owner || gen != s.activeGen {
		s.logger.Debug("discarding stale chat", "chat_id", id, "generation", gen)
		return nil
	}
	s.active = &conv
	return nil
}

// CreateConversation asks the service to open a conversation seeded by
// initialQuestion and returns its id. The listing is refreshed on success.
func (s *ConversationStore) CreateConversation(ctx context.Context, initialQuestion string) (string, error) {
	question := strings.TrimSpace(initialQuestion)
	if question == "" {
		s.notifier.Notify(failure("Could not create chat", "The question must not be empty."))
		return "", newError(ErrorValidation, "empty_question", nil)
	}
	token := s.creds.Token()
	if token == "" {
		return "", ErrNoIdentity
	}

	id, err := s.api.CreateChat(ctx, token, question)
	if err != nil {
		return "", s.fail(ctx, token, err, "create_chat_failed", "Could not create chat", "Could not create the chat.")
	}
	s.notifier.Notify(info("Chat created", "Your question was sent."))
	if err := s.FetchSummaries(ctx); err != nil {
		s.logger.Warn("listing refresh after create failed", "chat_id", id, "err", err)
	}
	return id, nil
}

// SendMessage posts content to the conversation and then refetches it so the
// message list, including the assistant reply, comes from the service.
func (s *ConversationStore) SendMessage(ctx context.Context, conversationID, content string) error {
	conversationID = strings.TrimSpace(conversationID)
	content = strings.TrimSpace(content)
	if conversationID == "" || content == "" {
		s.notifier.Notify(failure("Message not sent", "Choose a chat and type a message."))
		return newError(ErrorValidation, "empty_message", nil)
	}
	token := s.creds.Token()
	if token == "" {
		return ErrNoIdentity
	}

	if err := s.api.SendMessage(ctx, token, conversationID, content); err != nil {
		return s.fail(ctx, token, err, "send_message_failed", "Message not sent", "Could not send the message.")
	}
	if err := s.FetchConversation(ctx, conversationID); err != nil {
		s.logger.Warn("chat refresh after send failed", "chat_id", conversationID, "err", err)
	}
	return nil
}

// DeleteConversation removes the conversation on the service, unsets it if it
// was active and refreshes the listing.
func (s *ConversationStore) DeleteConversation(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		s.notifier.Notify(failure("Chat not deleted", "A chat id is required."))
		return newError(ErrorValidation, "missing_chat_id", nil)
	}
	token := s.creds.Token()
	if token == "" {
		return ErrNoIdentity
	}

	if err := s.api.DeleteChat(ctx, token, id); err != nil {
		return s.fail(ctx, token, err, "delete_chat_failed", "Chat not deleted", "Could not delete the chat.")
	}

	s.mu.Lock()
	if token == s.owner {
		delete(s.summaries, id)
		if s.active != nil && s.active.ID == id {
			s.active = nil
		}
		if s.activeTarget == id {
			s.activeTarget = ""
			s.activeGen++
		}
	}
	s.mu.Unlock()

	s.notifier.Notify(info("Chat deleted", "The chat was removed."))
	if err := s.FetchSummaries(ctx); err != nil {
		s.logger.Warn("listing refresh after delete failed", "chat_id", id, "err", err)
	}
	return nil
}

// adopt scopes the cache to token, dropping everything cached under a
// previous credential. Callers hold s.mu.
func (s *ConversationStore) adopt(token string) {
	if s.owner == token {
		return
	}
	s.owner = token
	s.summaries = map[string]domain.ConversationSummary{}
	s.active = nil
	s.activeTarget = ""
	s.summariesGen++
	s.activeGen++
}

func (s *ConversationStore) done() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

// fail reports a failed remote call and maps it to the error taxonomy. A 401
// additionally raises the expiry hook.
func (s *ConversationStore) fail(ctx context.Context, token string, err error, reason, title, fallback string) error {
	if status, ok := upstreamStatusCode(err); ok && status == statusUnauthorized {
		s.logger.Warn("credential rejected", "reason", reason, "err", err)
		desc := serverMessage(err)
		if desc == "" {
			desc = "Log in again."
		}
		s.notifier.Notify(failure("Session expired", desc))
		if s.onExpired != nil {
			s.onExpired(ctx, token)
		}
		return newError(ErrorAuthExpired, reason, err)
	}
	s.logger.Warn("chat request failed", "reason", reason, "err", err)
	s.notifier.Notify(rejectionOrTransport(err, title, fallback))
	return classify(err, reason)
}
