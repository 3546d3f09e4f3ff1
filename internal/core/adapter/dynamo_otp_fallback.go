package adapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/dynamo"
)

// otpFallbackDynamoDB is a narrow, consumer-defined interface for DynamoDB
// operations required by the OTP fallback store.
type otpFallbackDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamo.DeleteItemInput, optFns ...func(*dynamo.Options)) (*dynamo.DeleteItemOutput, error)
}

// otpFallbackItem is the DynamoDB item shape for the otp_fallback table.
// It stands in for the code store's Redis-primary path when Redis is
// unavailable. The code is never stored in the clear: Ciphertext/Nonce/
// KeyID are the fields of a sealed cipher.Sealed record.
type otpFallbackItem struct {
	PhoneHash    string `dynamodbav:"phone_hash"`
	Ciphertext   []byte `dynamodbav:"ciphertext"`
	Nonce        []byte `dynamodbav:"nonce"`
	KeyID        string `dynamodbav:"key_id"`
	CreatedAt    string `dynamodbav:"created_at"`
	ExpiresAt    string `dynamodbav:"expires_at"`
	AttemptCount int    `dynamodbav:"attempt_count"`
	TTL          int64  `dynamodbav:"ttl"`
}

// OTPFallbackRecord is the adapter-level representation of a fallback OTP entry.
type OTPFallbackRecord struct {
	PhoneHash    string
	Ciphertext   []byte
	Nonce        []byte
	KeyID        string
	CreatedAt    string
	ExpiresAt    string
	AttemptCount int
	TTL          int64
}

// OTPFallbackStore persists sealed verification codes in DynamoDB, used as
// the code store's secondary backend when Redis is unavailable.
type OTPFallbackStore struct {
	db        otpFallbackDynamoDB
	tableName string
	clock     domain.Clock
}

// NewOTPFallbackStore creates an OTPFallbackStore backed by the given DynamoDB client.
func NewOTPFallbackStore(db otpFallbackDynamoDB, tableName string, clock domain.Clock) *OTPFallbackStore {
	return &OTPFallbackStore{
		db:        db,
		tableName: tableName,
		clock:     clock,
	}
}

// Put writes a sealed code for phoneHash, overwriting any prior entry. The
// write is unconditional; since the item is keyed on the phone hash, a new
// code replaces the earlier one, which keeps at most one code per phone.
func (s *OTPFallbackStore) Put(ctx context.Context, record OTPFallbackRecord) error {
	item := otpFallbackItem(record)

	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("otp fallback store: marshal item: %w", err)
	}

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName: &s.tableName,
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("otp fallback store: put: %w", err)
	}

	return nil
}

// Get retrieves the sealed code for phoneHash using a strongly consistent
// read. Returns domain.ErrNotFound when no record exists.
func (s *OTPFallbackStore) Get(ctx context.Context, phoneHash string) (*OTPFallbackRecord, error) {
	consistentRead := true

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"phone_hash": &dynamo.AttributeValueMemberS{Value: phoneHash},
		},
		ConsistentRead: &consistentRead,
	})
	if err != nil {
		return nil, fmt.Errorf("otp fallback store: get: %w", err)
	}

	if out.Item == nil {
		return nil, fmt.Errorf("otp fallback store: get: %w", domain.ErrNotFound)
	}

	var item otpFallbackItem
	if err := dynamo.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("otp fallback store: unmarshal item: %w", err)
	}

	return (*OTPFallbackRecord)(&item), nil
}

// IncrementAttempts atomically increments the attempt_count attribute for
// the fallback record identified by phoneHash and returns the new count.
func (s *OTPFallbackStore) IncrementAttempts(ctx context.Context, phoneHash string) (int, error) {
	updateExpr := "SET attempt_count = attempt_count + :one"

	out, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"phone_hash": &dynamo.AttributeValueMemberS{Value: phoneHash},
		},
		UpdateExpression: &updateExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":one": &dynamo.AttributeValueMemberN{Value: strconv.Itoa(1)},
		},
		ReturnValues: dynamo.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("otp fallback store: increment attempts: %w", err)
	}

	var updated struct {
		AttemptCount int `dynamodbav:"attempt_count"`
	}
	if err := dynamo.UnmarshalMap(out.Attributes, &updated); err != nil {
		return 0, fmt.Errorf("otp fallback store: unmarshal increment result: %w", err)
	}

	return updated.AttemptCount, nil
}

// Exists reports whether a fallback record is present for phoneHash.
func (s *OTPFallbackStore) Exists(ctx context.Context, phoneHash string) (bool, error) {
	_, err := s.Get(ctx, phoneHash)
	if err != nil {
		if domain.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// TTL returns the remaining lifetime of the fallback record for phoneHash,
// derived from its stored expires_at timestamp.
func (s *OTPFallbackStore) TTL(ctx context.Context, phoneHash string) (time.Duration, error) {
	record, err := s.Get(ctx, phoneHash)
	if err != nil {
		return 0, err
	}

	expiresAt, err := time.Parse(time.RFC3339, record.ExpiresAt)
	if err != nil {
		return 0, fmt.Errorf("otp fallback store: parse expires_at: %w", err)
	}

	remaining := expiresAt.Sub(s.clock.Now())
	if remaining < 0 {
		remaining = 0
	}

	return remaining, nil
}

// Clear deletes the fallback record for phoneHash, called once a code is
// consumed successfully or explicitly invalidated by a new send.
func (s *OTPFallbackStore) Clear(ctx context.Context, phoneHash string) error {
	_, err := s.db.DeleteItem(ctx, &dynamo.DeleteItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"phone_hash": &dynamo.AttributeValueMemberS{Value: phoneHash},
		},
	})
	if err != nil {
		return fmt.Errorf("otp fallback store: clear: %w", err)
	}

	return nil
}
