package adapter

import (
	"context"
	"fmt"

	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/dynamo"
)

// userDynamoDB is a narrow, consumer-defined interface for DynamoDB operations
// required by the user store. The *dynamodb.Client satisfies this interface.
type userDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

// userItem is the DynamoDB item shape for the users table. user_id is the
// partition key; phone_hash is projected onto a GSI for lookup by phone.
type userItem struct {
	UserID      string  `dynamodbav:"user_id"`
	PhoneHash   string  `dynamodbav:"phone_hash"`
	CountryCode string  `dynamodbav:"country_code"`
	UserType    *string `dynamodbav:"user_type,omitempty"`
	Verified    bool    `dynamodbav:"verified"`
	Blocked     bool    `dynamodbav:"blocked"`
	CreatedAt   string  `dynamodbav:"created_at"`
	UpdatedAt   string  `dynamodbav:"updated_at"`
	LastLoginAt string  `dynamodbav:"last_login_at"`
}

// UserRecord is the adapter-level representation of a user account.
type UserRecord struct {
	UserID      string
	PhoneHash   string
	CountryCode string
	UserType    *string
	Verified    bool
	Blocked     bool
	CreatedAt   string
	UpdatedAt   string
	LastLoginAt string
}

// UserStore persists user accounts in DynamoDB. Phone uniqueness is
// enforced on phone_hash alone, by the transactor's phone sentinel item;
// the hash covers the full E.164 number, so the country code is already
// part of it, and country_code is stored alongside.
type UserStore struct {
	db        userDynamoDB
	tableName string
	indexName string
}

// NewUserStore creates a UserStore backed by the given DynamoDB client.
func NewUserStore(db userDynamoDB, tableName string) *UserStore {
	return &UserStore{
		db:        db,
		tableName: tableName,
		indexName: "phone_hash-index",
	}
}

// Create inserts a new user record, enforcing user_id uniqueness via a
// conditional put. Phone uniqueness for registration is enforced separately
// by the transactor's phone sentinel item, since a GSI cannot back a
// conditional write.
func (s *UserStore) Create(ctx context.Context, user UserRecord) error {
	item := userItem(user)

	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("user store: marshal user: %w", err)
	}

	condExpr := "attribute_not_exists(user_id)"

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: &condExpr,
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("user store: create: %w", domain.ErrAlreadyExists)
		}
		return fmt.Errorf("user store: create: %w", err)
	}

	return nil
}

// GetByID retrieves a user record by user ID using a strongly consistent read.
// Returns domain.ErrNotFound when no user exists for the given ID.
func (s *UserStore) GetByID(ctx context.Context, userID string) (*UserRecord, error) {
	consistentRead := true

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID},
		},
		ConsistentRead: &consistentRead,
	})
	if err != nil {
		return nil, fmt.Errorf("user store: get by id: %w", err)
	}

	if out.Item == nil {
		return nil, fmt.Errorf("user store: get by id: %w", domain.ErrNotFound)
	}

	return s.unmarshalUser(out.Item)
}

// FindByPhoneHash looks up a user by phone hash via the phone_hash-index
// GSI, then fetches the full record with a consistent GetItem read. Returns
// domain.ErrNotFound when no user exists for the given phone hash.
func (s *UserStore) FindByPhoneHash(ctx context.Context, phoneHash string) (*UserRecord, error) {
	keyExpr := "phone_hash = :ph"

	queryOut, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &s.indexName,
		KeyConditionExpression: &keyExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":ph": &dynamo.AttributeValueMemberS{Value: phoneHash},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("user store: find by phone hash query: %w", err)
	}

	if len(queryOut.Items) == 0 {
		return nil, fmt.Errorf("user store: find by phone hash: %w", domain.ErrNotFound)
	}

	var projected struct {
		UserID string `dynamodbav:"user_id"`
	}
	if err := dynamo.UnmarshalMap(queryOut.Items[0], &projected); err != nil {
		return nil, fmt.Errorf("user store: unmarshal gsi projection: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("user store: find by phone hash: %w", err)
	}

	return s.GetByID(ctx, projected.UserID)
}

// SelectRole sets the user's role exactly once. The update condition
// requires user_type to be currently unset; a second call for the same
// user returns domain.ErrRoleAlreadySelected.
func (s *UserStore) SelectRole(ctx context.Context, userID string, role domain.Role, now string) error {
	roleStr := string(role)
	updateExpr := "SET user_type = :role, updated_at = :now"
	condExpr := "attribute_not_exists(user_type)"

	_, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression:    &updateExpr,
		ConditionExpression: &condExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":role": &dynamo.AttributeValueMemberS{Value: roleStr},
			":now":  &dynamo.AttributeValueMemberS{Value: now},
		},
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("user store: select role: %w", domain.ErrRoleAlreadySelected)
		}
		return fmt.Errorf("user store: select role: %w", err)
	}

	return nil
}

// MarkVerified sets the verified flag and updates the last-login timestamp.
// Called when an existing user who is not yet verified logs in;
// registration writes verified=true directly.
func (s *UserStore) MarkVerified(ctx context.Context, userID string, now string) error {
	updateExpr := "SET verified = :v, last_login_at = :now, updated_at = :now"

	_, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression: &updateExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":v":   &dynamo.AttributeValueMemberBOOL{Value: true},
			":now": &dynamo.AttributeValueMemberS{Value: now},
		},
	})
	if err != nil {
		return fmt.Errorf("user store: mark verified: %w", err)
	}

	return nil
}

// UpdateLastLogin sets the last-login timestamp unconditionally. Called
// when an already-verified user logs in; for a user not yet verified,
// MarkVerified sets the timestamp instead.
func (s *UserStore) UpdateLastLogin(ctx context.Context, userID string, now string) error {
	updateExpr := "SET last_login_at = :now, updated_at = :now"

	_, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"user_id": &dynamo.AttributeValueMemberS{Value: userID},
		},
		UpdateExpression: &updateExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":now": &dynamo.AttributeValueMemberS{Value: now},
		},
	})
	if err != nil {
		return fmt.Errorf("user store: update last login: %w", err)
	}

	return nil
}

// unmarshalUser converts a DynamoDB attribute map into a UserRecord.
func (s *UserStore) unmarshalUser(item map[string]dynamo.AttributeValue) (*UserRecord, error) {
	var ui userItem
	if err := dynamo.UnmarshalMap(item, &ui); err != nil {
		return nil, fmt.Errorf("user store: unmarshal user: %w", err)
	}

	return &UserRecord{
		UserID:      ui.UserID,
		PhoneHash:   ui.PhoneHash,
		CountryCode: ui.CountryCode,
		UserType:    ui.UserType,
		Verified:    ui.Verified,
		Blocked:     ui.Blocked,
		CreatedAt:   ui.CreatedAt,
		UpdatedAt:   ui.UpdatedAt,
		LastLoginAt: ui.LastLoginAt,
	}, nil
}
