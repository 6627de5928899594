package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"cinchat/internal/domain"
)

const (
	defaultBaseURL = "http://localhost:3001"
	defaultTimeout = 10 * time.Second
)

// credentialsRequest is the body of POST /auth for login and registration.
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Action   string `json:"action,omitempty"`
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	NewPassword string `json:"newPassword"`
}

type loginResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

// errorResponse is the structured body the service sends with non-2xx statuses.
type errorResponse struct {
	Message string `json:"message"`
}

type chatMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	IsUser    bool      `json:"isUser"`
	Timestamp time.Time `json:"timestamp"`
}

type chatPayload struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Messages  []chatMessage `json:"messages"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

type createChatRequest struct {
	Question string `json:"question"`
}

type createChatResponse struct {
	ID string `json:"id"`
}

func (r loginResponse) validate() error {
	if r.Token == "" {
		return errors.New("missing token")
	}
	if r.User.ID == "" {
		return errors.New("missing user")
	}
	return nil
}

func (r createChatResponse) validate() error {
	if r.ID == "" {
		return errors.New("missing id")
	}
	return nil
}

// validator is implemented by response bodies with required fields.
type validator interface {
	validate() error
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// HTTPStatusError captures responses whose status the caller did not accept.
// Message holds the server supplied reason when the body carried one.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Message    string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("chatapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

func (e *HTTPStatusError) ServerMessage() string {
	return e.Message
}

// ResponseError reports an accepted status whose body could not be used:
// it did not decode or lacked a required field. The service did answer.
type ResponseError struct {
	StatusCode int
	URL        string
	Err        error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("chatapi: malformed response (status %d) from %s: %v", e.StatusCode, e.URL, e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

func (e *ResponseError) MalformedResponse() bool {
	return true
}

// Client talks to the chat service. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	requestID  func() string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// NewClient creates a Client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("chatapi: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("chatapi: base url %q must use http or https", baseURL)
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
		requestID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// Login exchanges credentials for a bearer token and the account record.
func (c *Client) Login(ctx context.Context, email, password string) (domain.Identity, error) {
	var payload loginResponse
	err := c.do(ctx, http.MethodPost, "/auth", "", credentialsRequest{Email: email, Password: password}, isSuccess, &payload)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("chatapi: login: %w", err)
	}
	return domain.Identity{UserID: payload.User.ID, Email: payload.User.Email, Token: payload.Token}, nil
}

// Register creates an account. Only 201 Created counts as success.
func (c *Client) Register(ctx context.Context, email, password string) error {
	body := credentialsRequest{Email: email, Password: password, Action: "register"}
	if err := c.do(ctx, http.MethodPost, "/auth", "", body, expectStatus(http.StatusCreated), nil); err != nil {
		return fmt.Errorf("chatapi: register: %w", err)
	}
	return nil
}

func (c *Client) ResetPassword(ctx context.Context, email, newPassword string) error {
	body := resetPasswordRequest{Email: email, NewPassword: newPassword}
	if err := c.do(ctx, http.MethodPut, "/auth", "", body, isSuccess, nil); err != nil {
		return fmt.Errorf("chatapi: reset password: %w", err)
	}
	return nil
}

func (c *Client) DeleteAccount(ctx context.Context, token string) error {
	if err := c.do(ctx, http.MethodDelete, "/auth", token, nil, isSuccess, nil); err != nil {
		return fmt.Errorf("chatapi: delete account: %w", err)
	}
	return nil
}

func (c *Client) ListChats(ctx context.Context, token string) ([]domain.ConversationSummary, error) {
	var payload []chatPayload
	if err := c.do(ctx, http.MethodGet, "/chat", token, nil, isSuccess, &payload); err != nil {
		return nil, fmt.Errorf("chatapi: list chats: %w", err)
	}
	out := make([]domain.ConversationSummary, 0, len(payload))
	for _, p := range payload {
		out = append(out, domain.ConversationSummary{ID: p.ID, Title: p.Title, LastUpdatedAt: p.UpdatedAt})
	}
	return out, nil
}

func (c *Client) GetChat(ctx context.Context, token, id string) (domain.Conversation, error) {
	var payload chatPayload
	if err := c.do(ctx, http.MethodGet, chatPath(id), token, nil, isSuccess, &payload); err != nil {
		return domain.Conversation{}, fmt.Errorf("chatapi: get chat %q: %w", id, err)
	}
	return payload.toDomain(), nil
}

// CreateChat opens a conversation seeded by question. Only 201 Created counts
// as success.
func (c *Client) CreateChat(ctx context.Context, token, question string) (string, error) {
	var payload createChatResponse
	err := c.do(ctx, http.MethodPost, "/chat", token, createChatRequest{Question: question}, expectStatus(http.StatusCreated), &payload)
	if err != nil {
		return "", fmt.Errorf("chatapi: create chat: %w", err)
	}
	return payload.ID, nil
}

func (c *Client) SendMessage(ctx context.Context, token, id, message string) error {
	if err := c.do(ctx, http.MethodPost, chatPath(id), token, sendMessageRequest{Message: message}, isSuccess, nil); err != nil {
		return fmt.Errorf("chatapi: send message to %q: %w", id, err)
	}
	return nil
}

// DeleteChat removes a conversation. Only 204 No Content counts as success.
func (c *Client) DeleteChat(ctx context.Context, token, id string) error {
	if err := c.do(ctx, http.MethodDelete, chatPath(id), token, nil, expectStatus(http.StatusNoContent), nil); err != nil {
		return fmt.Errorf("chatapi: delete chat %q: %w", id, err)
	}
	return nil
}

func chatPath(id string) string {
	return "/chat/" + url.PathEscape(id)
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func expectStatus(want int) func(int) bool {
	return func(status int) bool { return status == want }
}

func (c *Client) do(ctx context.Context, method, path, token string, in any, accept func(int) bool, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	endpoint := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if c.requestID != nil {
		req.Header.Set("X-Correlation-Id", c.requestID())
	}

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if !accept(res.StatusCode) {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		var reason errorResponse
		_ = json.Unmarshal(buf, &reason)
		return &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        endpoint,
			Message:    strings.TrimSpace(reason.Message),
			Body:       string(buf),
		}
	}
	if out == nil {
		return nil
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return &ResponseError{StatusCode: res.StatusCode, URL: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	if v, ok := out.(validator); ok {
		if err := v.validate(); err != nil {
			return &ResponseError{StatusCode: res.StatusCode, URL: endpoint, Err: err}
		}
	}
	return nil
}

func (p chatPayload) toDomain() domain.Conversation {
	msgs := make([]domain.Message, 0, len(p.Messages))
	for _, m := range p.Messages {
		originator := domain.OriginatorAssistant
		if m.IsUser {
			originator = domain.OriginatorUser
		}
		msgs = append(msgs, domain.Message{
			ID:         m.ID,
			Content:    m.Content,
			Originator: originator,
			SentAt:     m.Timestamp,
		})
	}
	return domain.Conversation{
		ID:        p.ID,
		Title:     p.Title,
		Messages:  msgs,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}
