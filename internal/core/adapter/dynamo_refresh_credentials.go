package adapter

import (
	"context"
	"fmt"

	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/dynamo"
)

// credentialDynamoDB is a narrow, consumer-defined interface for DynamoDB
// operations required by the refresh-credential store. The *dynamodb.Client
// satisfies this interface.
type credentialDynamoDB interface {
	GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

// refreshCredentialItem is the DynamoDB item shape for the refresh
// credentials table. credential_id is the partition key; token_hash is
// projected onto a GSI so a presented refresh token can be looked up by its
// hash without a table scan. family groups every credential descended from
// one original grant by rotation, so that reuse of a retired credential can
// revoke the whole family.
type refreshCredentialItem struct {
	CredentialID string `dynamodbav:"credential_id"`
	UserID       string `dynamodbav:"user_id"`
	TokenHash    string `dynamodbav:"token_hash"`
	Family       string `dynamodbav:"family"`
	RotatedTo    string `dynamodbav:"rotated_to"`
	Revoked      bool   `dynamodbav:"revoked"`
	CreatedAt    string `dynamodbav:"created_at"`
	ExpiresAt    string `dynamodbav:"expires_at"`
	TTL          int64  `dynamodbav:"ttl"`
}

// CredentialRecord is the adapter-level representation of a refresh credential.
type CredentialRecord struct {
	CredentialID string
	UserID       string
	TokenHash    string
	Family       string
	RotatedTo    string
	Revoked      bool
	CreatedAt    string
	ExpiresAt    string
	TTL          int64
}

// CredentialStore persists refresh credentials in DynamoDB.
type CredentialStore struct {
	db        credentialDynamoDB
	tableName string
	indexName string
	clock     domain.Clock
}

// NewCredentialStore creates a CredentialStore backed by the given DynamoDB client.
func NewCredentialStore(db credentialDynamoDB, tableName string, clock domain.Clock) *CredentialStore {
	return &CredentialStore{
		db:        db,
		tableName: tableName,
		indexName: "token_hash-index",
		clock:     clock,
	}
}

// Create writes a new credential record. Returns domain.ErrAlreadyExists if
// a credential with the same ID already exists.
func (s *CredentialStore) Create(ctx context.Context, cred CredentialRecord) error {
	item := refreshCredentialItem(cred)

	av, err := dynamo.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("credential store: marshal credential: %w", err)
	}

	condExpr := "attribute_not_exists(credential_id)"

	_, err = s.db.PutItem(ctx, &dynamo.PutItemInput{
		TableName:           &s.tableName,
		Item:                av,
		ConditionExpression: &condExpr,
	})
	if err != nil {
		if dynamo.IsConditionalCheckFailed(err) {
			return fmt.Errorf("credential store: create: %w", domain.ErrAlreadyExists)
		}
		return fmt.Errorf("credential store: create: %w", err)
	}

	return nil
}

// GetByID retrieves a credential record by ID using a strongly consistent read.
// Returns domain.ErrNotFound when no credential exists for the given ID.
func (s *CredentialStore) GetByID(ctx context.Context, credentialID string) (*CredentialRecord, error) {
	consistentRead := true

	out, err := s.db.GetItem(ctx, &dynamo.GetItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"credential_id": &dynamo.AttributeValueMemberS{Value: credentialID},
		},
		ConsistentRead: &consistentRead,
	})
	if err != nil {
		return nil, fmt.Errorf("credential store: get by id: %w", err)
	}

	if out.Item == nil {
		return nil, fmt.Errorf("credential store: get by id: %w", domain.ErrNotFound)
	}

	return s.unmarshalCredential(out.Item)
}

// FindByTokenHash looks up a credential by the hash of a presented refresh
// token, via the token_hash-index GSI, then fetches the full record with a
// consistent GetItem read. Returns domain.ErrNotFound when no credential
// exists for the given hash.
func (s *CredentialStore) FindByTokenHash(ctx context.Context, tokenHash string) (*CredentialRecord, error) {
	keyExpr := "token_hash = :th"

	queryOut, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              &s.tableName,
		IndexName:              &s.indexName,
		KeyConditionExpression: &keyExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":th": &dynamo.AttributeValueMemberS{Value: tokenHash},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("credential store: find by token hash query: %w", err)
	}

	if len(queryOut.Items) == 0 {
		return nil, fmt.Errorf("credential store: find by token hash: %w", domain.ErrNotFound)
	}

	var projected struct {
		CredentialID string `dynamodbav:"credential_id"`
	}
	if err := dynamo.UnmarshalMap(queryOut.Items[0], &projected); err != nil {
		return nil, fmt.Errorf("credential store: unmarshal gsi projection: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("credential store: find by token hash: %w", err)
	}

	return s.GetByID(ctx, projected.CredentialID)
}

// ListByFamily retrieves every credential belonging to a rotation family,
// for sibling revocation when reuse of a retired credential is detected.
func (s *CredentialStore) ListByFamily(ctx context.Context, family string) ([]CredentialRecord, error) {
	keyExpr := "family = :f"

	out, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              &s.tableName,
		IndexName:              "family-index",
		KeyConditionExpression: &keyExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":f": &dynamo.AttributeValueMemberS{Value: family},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("credential store: list by family: %w", err)
	}

	creds := make([]CredentialRecord, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := s.unmarshalCredential(item)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *rec)
	}

	return creds, nil
}

// ListByUser retrieves every credential belonging to a user, across every
// rotation family, for logout's revoke-everything-outstanding step.
func (s *CredentialStore) ListByUser(ctx context.Context, userID string) ([]CredentialRecord, error) {
	keyExpr := "user_id = :u"

	out, err := s.db.Query(ctx, &dynamo.QueryInput{
		TableName:              &s.tableName,
		IndexName:              "user-index",
		KeyConditionExpression: &keyExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":u": &dynamo.AttributeValueMemberS{Value: userID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("credential store: list by user: %w", err)
	}

	creds := make([]CredentialRecord, 0, len(out.Items))
	for _, item := range out.Items {
		rec, err := s.unmarshalCredential(item)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *rec)
	}

	return creds, nil
}

// Rotate marks credentialID as rotated to successorID and revoked. Used
// when a refresh token is exchanged for a new one: the old credential row
// is kept (its rotated_to pointer is forensic evidence of the chain) but
// is rejected as revoked if ever presented again.
func (s *CredentialStore) Rotate(ctx context.Context, credentialID, successorID string) error {
	updateExpr := "SET rotated_to = :rt, revoked = :r"

	_, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"credential_id": &dynamo.AttributeValueMemberS{Value: credentialID},
		},
		UpdateExpression: &updateExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":rt": &dynamo.AttributeValueMemberS{Value: successorID},
			":r":  &dynamo.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return fmt.Errorf("credential store: rotate: %w", err)
	}

	return nil
}

// Revoke marks a credential revoked. Used both for explicit logout and for
// revoking every sibling in a family once reuse is detected.
func (s *CredentialStore) Revoke(ctx context.Context, credentialID string) error {
	updateExpr := "SET revoked = :r"

	_, err := s.db.UpdateItem(ctx, &dynamo.UpdateItemInput{
		TableName: &s.tableName,
		Key: map[string]dynamo.AttributeValue{
			"credential_id": &dynamo.AttributeValueMemberS{Value: credentialID},
		},
		UpdateExpression: &updateExpr,
		ExpressionAttributeValues: map[string]dynamo.AttributeValue{
			":r": &dynamo.AttributeValueMemberBOOL{Value: true},
		},
	})
	if err != nil {
		return fmt.Errorf("credential store: revoke: %w", err)
	}

	return nil
}

// unmarshalCredential converts a DynamoDB attribute map into a CredentialRecord.
func (s *CredentialStore) unmarshalCredential(item map[string]dynamo.AttributeValue) (*CredentialRecord, error) {
	var ci refreshCredentialItem
	if err := dynamo.UnmarshalMap(item, &ci); err != nil {
		return nil, fmt.Errorf("credential store: unmarshal credential: %w", err)
	}

	return &CredentialRecord{
		CredentialID: ci.CredentialID,
		UserID:       ci.UserID,
		TokenHash:    ci.TokenHash,
		Family:       ci.Family,
		RotatedTo:    ci.RotatedTo,
		Revoked:      ci.Revoked,
		CreatedAt:    ci.CreatedAt,
		ExpiresAt:    ci.ExpiresAt,
		TTL:          ci.TTL,
	}, nil
}
