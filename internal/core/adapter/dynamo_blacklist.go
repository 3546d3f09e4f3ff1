package adapter

import (
	"context"
	"fmt"

	"github.com/ridewise/authcore/internal/dynamo"
)

// blacklistDynamoDB is a narrow, consumer-defined interface for DynamoDB
// operations required by the blacklist fallback store.
type blacklistDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
}

// blacklistItem is the DynamoDB item shape for the token_blacklist table.
// It is the durable fallback for access token revocation, consulted only
// when Redis is unavailable: Redis is the hot path for IsRevoked checks on
// every authenticated request.
type blacklistItem struct {
	JTI       string `dynamodbav:"jti"`
	ExpiresAt string `dynamodbav:"expires_at"`
	TTL       int64  `dynamodbav:"ttl"`
}

// BlacklistRecord is the adapter-level representation of a blacklist entry.
type BlacklistRecord struct {
	JTI       string
	ExpiresAt string
	TTL       int64
}

// BlacklistStore persists revoked access token identifiers in DynamoDB as a
// durable fallback to the Redis-backed RevocationStore.
type BlacklistStore struct {
	db        blacklistDynamoDB
	tableName string
}

// NewBlacklistStore creates a BlacklistStore backed by the given DynamoDB client.
func NewBlacklistStore(db blacklistDynamoDB, tableName string) *BlacklistStore {
	return &BlacklistStore{db: db, tableName: tableName}
}

// Put records a revoked JTI. The DynamoDB ttl attribute expires the item
// automatically once the underlying token would have expired anyway.
func (s *BlacklistStore) Put(ctx context.Context, record BlacklistRecord) error {
	item := blacklistItem(record)

	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("blacklist store: marshal item: %w", err)
	}

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName: &s.tableName,
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("blacklist store: put: %w", err)
	}

	return nil
}

// IsBlacklisted checks whether a JTI has been recorded as revoked, using a
// strongly consistent read. It never returns domain.ErrNotFound: a missing
// item means the JTI is simply not blacklisted.
func (s *BlacklistStore) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	consistentRead := true

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"jti": &dynamo.AttributeValueMemberS{Value: jti},
		},
		ConsistentRead: &consistentRead,
	})
	if err != nil {
		return false, fmt.Errorf("blacklist store: is blacklisted: %w", err)
	}

	return out.Item != nil, nil
}
