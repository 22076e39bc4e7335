package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/zhouzirui/tavern-room/backend/internal/model/chat"
)

const (
	pkPrefixSession = "SESSION#"
	skPrefixMsg     = "MSG#"
)

// dynamodbAPI is the subset of the DynamoDB client the log needs.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoLog stores one item per message: PK=SESSION#{id}, SK=MSG#{ulid}.
type DynamoLog struct {
	api       dynamodbAPI
	tableName string
	seq       *sequencer
}

// NewDynamo creates a DynamoDB-backed log.
func NewDynamo(api dynamodbAPI, tableName string) (*DynamoLog, error) {
	if api == nil {
		return nil, errors.New("history: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("history: dynamodb table name must not be empty")
	}
	return &DynamoLog{api: api, tableName: tableName, seq: newSequencer()}, nil
}

var _ Log = (*DynamoLog)(nil)

func sessionPK(sessionID string) string { return pkPrefixSession + sessionID }

func (l *DynamoLog) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if msg.SessionID == "" {
		return chat.Message{}, ErrSessionRequired
	}

	stamped, err := l.seq.stamp(msg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("history: stamp message: %w", err)
	}

	_, err = l.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                messageItem(stamped),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("history: append: %w", err)
	}
	return stamped, nil
}

func (l *DynamoLog) ReadOrdered(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return l.query(ctx, sessionID, 0, true)
}

func (l *DynamoLog) Recent(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return l.query(ctx, sessionID, 0, true)
	}
	msgs, err := l.query(ctx, sessionID, limit, false)
	if err != nil {
		return nil, err
	}
	// newest first from the query; flip back to chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (l *DynamoLog) query(ctx context.Context, sessionID string, limit int, forward bool) ([]chat.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(l.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(forward),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	msgs := make([]chat.Message, 0)
	for {
		out, err := l.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("history: query %s: %w", sessionID, err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("history: decode %s: %w", sessionID, err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 || (limit > 0 && len(msgs) >= limit) {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (l *DynamoLog) Close() error { return nil }

func messageItem(msg chat.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: sessionPK(msg.SessionID)},
		"SK":         &types.AttributeValueMemberS{Value: skPrefixMsg + msg.ID},
		"id":         &types.AttributeValueMemberS{Value: msg.ID},
		"session_id": &types.AttributeValueMemberS{Value: msg.SessionID},
		"room_id":    &types.AttributeValueMemberS{Value: msg.RoomID},
		"user":       &types.AttributeValueMemberS{Value: msg.Author},
		"name":       &types.AttributeValueMemberS{Value: msg.AuthorName},
		"role":       &types.AttributeValueMemberS{Value: string(msg.Role)},
		"message":    &types.AttributeValueMemberS{Value: msg.Body},
		"timestamp":  &types.AttributeValueMemberS{Value: msg.Timestamp.UTC().Format(time.RFC3339Nano)},
	}
}

func itemToMessage(item map[string]types.AttributeValue) (chat.Message, error) {
	ts, err := time.Parse(time.RFC3339Nano, stringAttr(item, "timestamp"))
	if err != nil {
		return chat.Message{}, fmt.Errorf("timestamp: %w", err)
	}
	return chat.Message{
		ID:         stringAttr(item, "id"),
		SessionID:  stringAttr(item, "session_id"),
		RoomID:     stringAttr(item, "room_id"),
		Author:     stringAttr(item, "user"),
		AuthorName: stringAttr(item, "name"),
		Role:       chat.Role(stringAttr(item, "role")),
		Body:       stringAttr(item, "message"),
		Timestamp:  ts,
	}, nil
}

func stringAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
