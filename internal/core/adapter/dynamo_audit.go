package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ridewise/authcore/internal/audit"
	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/dynamo"
)

// auditDynamoDB is a narrow, consumer-defined interface for DynamoDB
// operations required by the audit sink.
type auditDynamoDB interface {
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

// auditItem is the DynamoDB item shape for the audit_log table. GSIs:
// "user-index" (user_id, created_at), "phone-index" (phone_hash,
// created_at), "event-index" (event_type, created_at) for failure counts,
// "archived-index" (archived, created_at) for the cleanup sweep.
type auditItem struct {
	ID            string            `dynamodbav:"id"`
	EventType     string            `dynamodbav:"event_type"`
	Success       bool              `dynamodbav:"success"`
	UserID        string            `dynamodbav:"user_id"`
	PhoneHash     string            `dynamodbav:"phone_hash"`
	IPAddress     string            `dynamodbav:"ip_address"`
	UserAgent     string            `dynamodbav:"user_agent"`
	Payload       map[string]string `dynamodbav:"payload,omitempty"`
	FailureReason string            `dynamodbav:"failure_reason"`
	CreatedAt     string            `dynamodbav:"created_at"`
	Archived      string            `dynamodbav:"archived"` // "true"/"false", string-typed so it can be a GSI partition key
}

func itemFromEntry(e audit.Entry) auditItem {
	id := e.ID
	if id == "" {
		id = uuid.NewString()
	}
	archived := "false"
	if e.Archived {
		archived = "true"
	}
	return auditItem{
		ID:            id,
		EventType:     e.EventType,
		Success:       e.Success,
		UserID:        e.UserID,
		PhoneHash:     e.PhoneHash,
		IPAddress:     e.IPAddress,
		UserAgent:     e.UserAgent,
		Payload:       e.Payload,
		FailureReason: e.FailureReason,
		CreatedAt:     e.CreatedAt.UTC().Format(time.RFC3339Nano),
		Archived:      archived,
	}
}

func (i auditItem) toEntry() (audit.Entry, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, i.CreatedAt)
	if err != nil {
		return audit.Entry{}, fmt.Errorf("audit sink: parse created_at: %w", err)
	}
	return audit.Entry{
		ID:            i.ID,
		EventType:     i.EventType,
		Success:       i.Success,
		UserID:        i.UserID,
		PhoneHash:     i.PhoneHash,
		IPAddress:     i.IPAddress,
		UserAgent:     i.UserAgent,
		Payload:       i.Payload,
		FailureReason: i.FailureReason,
		CreatedAt:     createdAt,
		Archived:      i.Archived == "true",
	}, nil
}

// AuditStore persists audit entries in DynamoDB.
type AuditStore struct {
	db        auditDynamoDB
	tableName string
	clock     domain.Clock
}

// NewAuditStore creates an AuditStore backed by the given DynamoDB client.
func NewAuditStore(db auditDynamoDB, tableName string, clock domain.Clock) *AuditStore {
	return &AuditStore{db: db, tableName: tableName, clock: clock}
}

// Record writes entry, assigning it a fresh ID if none is set.
func (s *AuditStore) Record(ctx context.Context, entry audit.Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.clock.Now()
	}
	item := itemFromEntry(entry)

	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("audit sink: marshal item: %w", err)
	}

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName: &s.tableName,
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("audit sink: record: %w", err)
	}

	return nil
}

// FindByUser returns the most recent entries for userID, newest first,
// capped at limit.
func (s *AuditStore) FindByUser(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	return s.queryIndex(ctx, "user-index", "user_id", userID, limit)
}

// FindByPhoneHash returns the most recent entries for phoneHash, newest
// first, capped at limit.
func (s *AuditStore) FindByPhoneHash(ctx context.Context, phoneHash string, limit int) ([]audit.Entry, error) {
	return s.queryIndex(ctx, "phone-index", "phone_hash", phoneHash, limit)
}

func (s *AuditStore) queryIndex(ctx context.Context, indexName, keyName, keyValue string, limit int) ([]audit.Entry, error) {
	indexNameCopy := indexName
	keyCondition := fmt.Sprintf("%s = :v", keyName)
	scanForward := false

	input := &dynamo.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &indexNameCopy,
		KeyConditionExpression: &keyCondition,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":v": &dynamo.AttributeValueMemberS{Value: keyValue},
		},
		ScanIndexForward: &scanForward,
	}
	if limit > 0 {
		limit32 := int32(limit)
		input.Limit = &limit32
	}

	out, err := s.db.Query(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("audit sink: query %s: %w", indexName, err)
	}

	entries := make([]audit.Entry, 0, len(out.Items))
	for _, rawItem := range out.Items {
		var item auditItem
		if err := dynamo.UnmarshalMap(rawItem, &item); err != nil {
			return nil, fmt.Errorf("audit sink: unmarshal item: %w", err)
		}
		entry, err := item.toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// CountFailedAttempts counts failed entries of eventType since the given
// time, optionally narrowed to phoneHash and/or ipAddress.
func (s *AuditStore) CountFailedAttempts(ctx context.Context, eventType, phoneHash, ipAddress string, since time.Time) (int, error) {
	indexName := "event-index"
	keyCondition := "event_type = :et AND created_at >= :since"
	scanForward := false

	values := map[string]dynamo.AttributeValue{
		":et":    &dynamo.AttributeValueMemberS{Value: eventType},
		":since": &dynamo.AttributeValueMemberS{Value: since.UTC().Format(time.RFC3339Nano)},
	}

	var filterParts []string
	filterParts = append(filterParts, "success = :false")
	values[":false"] = &dynamo.AttributeValueMemberBOOL{Value: false}
	if phoneHash != "" {
		filterParts = append(filterParts, "phone_hash = :ph")
		values[":ph"] = &dynamo.AttributeValueMemberS{Value: phoneHash}
	}
	if ipAddress != "" {
		filterParts = append(filterParts, "ip_address = :ip")
		values[":ip"] = &dynamo.AttributeValueMemberS{Value: ipAddress}
	}
	filterExpr := filterParts[0]
	for _, p := range filterParts[1:] {
		filterExpr += " AND " + p
	}

	input := &dynamo.QueryInput{
		TableName:                 &s.tableName,
		IndexName:                 &indexName,
		KeyConditionExpression:    &keyCondition,
		FilterExpression:          &filterExpr,
		ExpressionAttributeValues: values,
		ScanIndexForward:          &scanForward,
	}

	out, err := s.db.Query(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("audit sink: count failed attempts: %w", err)
	}

	return len(out.Items), nil
}

// ArchiveOlderThan marks every unarchived entry created before cutoff as
// archived, returning the number of entries touched. It queries the
// archived-index for the "false" partition rather than scanning the whole
// table.
func (s *AuditStore) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	indexName := "archived-index"
	keyCondition := "archived = :false AND created_at <= :cutoff"

	out, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &indexName,
		KeyConditionExpression: &keyCondition,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":false":  &dynamo.AttributeValueMemberS{Value: "false"},
			":cutoff": &dynamo.AttributeValueMemberS{Value: cutoff.UTC().Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("audit sink: archive: query: %w", err)
	}

	archived := 0
	updateExpr := "SET archived = :true"
	for _, rawItem := range out.Items {
		var item auditItem
		if err := dynamo.UnmarshalMap(rawItem, &item); err != nil {
			return archived, fmt.Errorf("audit sink: archive: unmarshal item: %w", err)
		}

		_, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
			TableName: &s.tableName,
			Key: map[string]dynamo.AttributeValue{
				"id": &dynamo.AttributeValueMemberS{Value: item.ID},
			},
			UpdateExpression: &updateExpr,
			ExpressionAttributeValues: map[string]dynamo.AttributeValue{
				":true": &dynamo.AttributeValueMemberS{Value: "true"},
			},
		})
		if err != nil {
			return archived, fmt.Errorf("audit sink: archive: update item %s: %w", item.ID, err)
		}
		archived++
	}

	return archived, nil
}

var _ audit.Sink = (*AuditStore)(nil)
