package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const processedTTL = 7 * 24 * time.Hour

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

type processedRecord struct {
	Key         string `dynamodbav:"pk"`
	Provider    string `dynamodbav:"provider"`
	EventID     string `dynamodbav:"eventId"`
	ProcessedAt string `dynamodbav:"processedAt"`
	ExpiresAt   int64  `dynamodbav:"expiresAt"`
}

// DynamoProcessedStore dedupes message ids with a conditional put, so the
// first writer wins across every API and worker replica.
type DynamoProcessedStore struct {
	client    dynamoAPI
	tableName string
	now       func() time.Time
}

var _ Dedupe = (*DynamoProcessedStore)(nil)

func NewDynamoProcessedStore(client dynamoAPI, tableName string) *DynamoProcessedStore {
	if client == nil {
		panic("events: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("events: table name cannot be empty")
	}
	return &DynamoProcessedStore{client: client, tableName: tableName, now: time.Now}
}

func (s *DynamoProcessedStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	key, err := attributevalue.Marshal(processedKey(provider, eventID))
	if err != nil {
		return false, fmt.Errorf("events: marshal key: %w", err)
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            map[string]types.AttributeValue{"pk": key},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return len(out.Item) > 0, nil
}

func (s *DynamoProcessedStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	now := s.now().UTC()
	item, err := attributevalue.MarshalMap(processedRecord{
		Key:         processedKey(provider, eventID),
		Provider:    provider,
		EventID:     eventID,
		ProcessedAt: now.Format(time.RFC3339Nano),
		ExpiresAt:   now.Add(processedTTL).Unix(),
	})
	if err != nil {
		return false, fmt.Errorf("events: marshal processed record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		var conditional *types.ConditionalCheckFailedException
		if errors.As(err, &conditional) {
			return false, nil
		}
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return true, nil
}
