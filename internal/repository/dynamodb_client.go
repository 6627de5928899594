package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	pkPrefixClient = "CLIENT#"
	skSession      = "SESSION#"
	ttlDuration    = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Client keeps the session of one client installation in a DynamoDB table.
// Token and user record live in a single item so they are always written
// and removed together.
type Client struct {
	api       dynamodbAPI
	tableName string
	clientID  string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName, clientID string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if strings.TrimSpace(clientID) == "" {
		return nil, errors.New("repository: client id must not be empty")
	}
	return &Client{api: api, tableName: tableName, clientID: clientID, now: time.Now}, nil
}

// clientPK returns the DynamoDB partition key for a client installation.
func clientPK(clientID string) string {
	return pkPrefixClient + clientID
}

func (c *Client) key() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: clientPK(c.clientID)},
		"SK": &types.AttributeValueMemberS{Value: skSession},
	}
}

// LoadSession returns the stored entries. Items past their TTL are treated as
// absent since DynamoDB removes expired items lazily.
func (c *Client) LoadSession(ctx context.Context) (string, string, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", "", fmt.Errorf("repository: LoadSession get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", "", nil
	}

	if _, ok := out.Item["ttl"]; ok {
		ttl, err := intAttr(out.Item, "ttl")
		if err != nil {
			return "", "", fmt.Errorf("repository: LoadSession decode ttl: %w", err)
		}
		if ttl <= c.now().Unix() {
			return "", "", nil
		}
	}

	token, err := optionalStrAttr(out.Item, "token")
	if err != nil {
		return "", "", fmt.Errorf("repository: LoadSession: %w", err)
	}
	user, err := optionalStrAttr(out.Item, "user")
	if err != nil {
		return "", "", fmt.Errorf("repository: LoadSession: %w", err)
	}
	return token, user, nil
}

// SaveSession writes or replaces the session item.
func (c *Client) SaveSession(ctx context.Context, token, user string) error {
	if token == "" || user == "" {
		return errors.New("repository: SaveSession: token and user are required")
	}
	now := c.now().UTC()
	item := c.key()
	item["token"] = &types.AttributeValueMemberS{Value: token}
	item["user"] = &types.AttributeValueMemberS{Value: user}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(ttlDuration).Unix(), 10)}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: SaveSession: %w", err)
	}
	return nil
}

// ClearSession removes the session item. Removing a missing item succeeds.
func (c *Client) ClearSession(ctx context.Context) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.key(),
	})
	if err != nil {
		return fmt.Errorf("repository: ClearSession: %w", err)
	}
	return nil
}

func optionalStrAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", nil
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
