// Package repository archives grading outcomes in DynamoDB. Conversation
// transcripts are never persisted here; only per-question scores and session
// accounting.
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

	"interview-agent/internal/domain"
)

const (
	skPrefixScore = "SCORE#"
	skMeta        = "META#"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client. Defined
// here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a DynamoDB table holding graded-answer records.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

// sessionPK returns the partition key for an interview session.
func sessionPK(conversationID string) string {
	return "SESSION#" + conversationID
}

// scoreSK returns the sort key for the graded question at index.
func scoreSK(index int) string {
	return fmt.Sprintf("%s%04d", skPrefixScore, index)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func ttlValue() int64 {
	return time.Now().Add(ttlDuration).Unix()
}

// SaveGradedAnswer writes the score record and the updated session meta in
// one transaction. A score is written at most once per question index; the
// condition expression rejects duplicates.
func (c *Client) SaveGradedAnswer(ctx context.Context, conversationID string, index int, q domain.Question, answered int) error {
	if strings.TrimSpace(conversationID) == "" {
		return errors.New("repository: SaveGradedAnswer: conversation id is required")
	}
	if index < 0 {
		return errors.New("repository: SaveGradedAnswer: index must not be negative")
	}

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                scoreItem(conversationID, index, q),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      metaItem(conversationID, answered),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveGradedAnswer: %w", err)
	}
	return nil
}

// GetAnsweredCount returns the number of graded answers recorded for the
// session, or zero when the session has no meta record yet.
func (c *Client) GetAnsweredCount(ctx context.Context, conversationID string) (int, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: sessionPK(conversationID)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("repository: GetAnsweredCount get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return 0, nil
	}

	answered, err := intAttr(out.Item, "answered")
	if err != nil {
		return 0, fmt.Errorf("repository: GetAnsweredCount decode answered: %w", err)
	}
	return answered, nil
}

func scoreItem(conversationID string, index int, q domain.Question) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":               &types.AttributeValueMemberS{Value: sessionPK(conversationID)},
		"SK":               &types.AttributeValueMemberS{Value: scoreSK(index)},
		"conversationId":   &types.AttributeValueMemberS{Value: conversationID},
		"question":         &types.AttributeValueMemberS{Value: q.Question},
		"score":            &types.AttributeValueMemberN{Value: numberOrZero(q.Score.String())},
		"scoreDescription": &types.AttributeValueMemberS{Value: q.ScoreDescription},
		"ttl":              &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
	}
}

func metaItem(conversationID string, answered int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: sessionPK(conversationID)},
		"SK":             &types.AttributeValueMemberS{Value: skMeta},
		"conversationId": &types.AttributeValueMemberS{Value: conversationID},
		"lastActivity":   &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		"answered":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", answered)},
		"ttl":            &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", ttlValue())},
	}
}

// numberOrZero guards against an ungraded question sneaking in with an empty
// score, which DynamoDB would reject as a malformed number.
func numberOrZero(s string) string {
	if strings.TrimSpace(s) == "" {
		return "0"
	}
	return s
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
