package adapter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ridewise/authcore/internal/core/app"
	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/dynamo"
)

// Compile-time check: Transactor satisfies app.AuthTransactor.
var _ app.AuthTransactor = (*Transactor)(nil)

// txDynamoDB is a narrow, consumer-defined interface for DynamoDB transaction
// operations. The *dynamodb.Client satisfies this interface.
type txDynamoDB interface {
	TransactWriteItems(ctx context.Context, params *dynamo.TransactWriteItemsInput, optFns ...func(*dynamo.Options)) (*dynamo.TransactWriteItemsOutput, error)
}

// Transactor orchestrates the multi-item DynamoDB writes that back
// verify_code's two branches:
//   - RegisterUser: brand-new user + their first refresh credential
//   - IssueLoginCredential: a fresh refresh credential for an existing user
type Transactor struct {
	db              txDynamoDB
	usersTable      string
	credentialTable string
}

// NewTransactor creates a Transactor backed by the given DynamoDB client.
func NewTransactor(db txDynamoDB, usersTable, credentialTable string) *Transactor {
	return &Transactor{
		db:              db,
		usersTable:      usersTable,
		credentialTable: credentialTable,
	}
}

// RegisterUser executes a 3-item TransactWriteItems: a user put, a phone
// sentinel put enforcing phone uniqueness (a GSI alone can't back a
// conditional write), and the user's first refresh credential put.
//
// Returns domain.ErrAlreadyExists if the user or phone sentinel already
// exists (cancellation reason ConditionalCheckFailed at index 0 or 1) —
// the verify_code caller falls back to the existing-user login path on
// this error, since it means a concurrent verify_code for the same phone
// won the race.
func (t *Transactor) RegisterUser(ctx context.Context, p app.RegistrationParams) error {
	ctx, span := tracer.Start(ctx, "dynamo.tx.register_user")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "TransactWriteItems"),
	)

	userPut := t.buildUserPut(p.UserID, p.PhoneHash, p.CountryCode, p.Now)
	phoneSentinelPut := t.buildPhoneSentinelPut(p.PhoneHash, p.UserID)
	credentialPut := t.buildCredentialPut(p.CredentialID, p.UserID, p.TokenHash, p.Family, p.Now, p.ExpiresAt, p.TTL)

	_, err := t.db.TransactWriteItems(ctx, &dynamo.TransactWriteItemsInput{
		TransactItems: []dynamo.TransactWriteItem{
			userPut,
			phoneSentinelPut,
			credentialPut,
		},
	})
	if err != nil {
		txErr := t.classifyTxError(err, "register user", "user_put", "phone_sentinel", "credential_put")
		span.RecordError(txErr)
		span.SetStatus(codes.Error, txErr.Error())
		return txErr
	}

	return nil
}

// IssueLoginCredential executes a 1-item TransactWriteItems that inserts a
// fresh refresh credential for an already-resolved existing user. It is
// a transaction of one rather than a plain PutItem so that the same
// classifyTxError path handles both branches uniformly.
func (t *Transactor) IssueLoginCredential(ctx context.Context, p app.LoginParams) error {
	ctx, span := tracer.Start(ctx, "dynamo.tx.issue_login_credential")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "dynamodb"),
		attribute.String("db.operation", "TransactWriteItems"),
	)

	credentialPut := t.buildCredentialPut(p.CredentialID, p.UserID, p.TokenHash, p.Family, p.Now, p.ExpiresAt, p.TTL)

	_, err := t.db.TransactWriteItems(ctx, &dynamo.TransactWriteItemsInput{
		TransactItems: []dynamo.TransactWriteItem{
			credentialPut,
		},
	})
	if err != nil {
		txErr := t.classifyTxError(err, "issue login credential", "credential_put")
		span.RecordError(txErr)
		span.SetStatus(codes.Error, txErr.Error())
		return txErr
	}

	return nil
}

// buildUserPut creates a TransactWriteItem that inserts a new user.
func (t *Transactor) buildUserPut(userID, phoneHash, countryCode, now string) dynamo.TransactWriteItem {
	condExpr := "attribute_not_exists(user_id)"
	item, _ := dynamo.MarshalMap(userItem{
		UserID:      userID,
		PhoneHash:   phoneHash,
		CountryCode: countryCode,
		Verified:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastLoginAt: now,
	})
	return dynamo.TransactWriteItem{
		Put: &dynamo.Put{
			TableName:           &t.usersTable,
			Item:                item,
			ConditionExpression: &condExpr,
		},
	}
}

// buildPhoneSentinelPut creates a TransactWriteItem enforcing phone
// uniqueness: a second registration for the same phone hash collides on
// this item's partition key even though phone_hash itself is only a GSI.
func (t *Transactor) buildPhoneSentinelPut(phoneHash, userID string) dynamo.TransactWriteItem {
	condExpr := "attribute_not_exists(user_id)"
	item := map[string]dynamo.AttributeValue{
		"user_id":    &dynamo.AttributeValueMemberS{Value: "phone#" + phoneHash},
		"phone_hash": &dynamo.AttributeValueMemberS{Value: phoneHash},
	}
	return dynamo.TransactWriteItem{
		Put: &dynamo.Put{
			TableName:           &t.usersTable,
			Item:                item,
			ConditionExpression: &condExpr,
		},
	}
}

// buildCredentialPut creates a TransactWriteItem that inserts a new refresh
// credential, the first of a fresh family.
func (t *Transactor) buildCredentialPut(credentialID, userID, tokenHash, family, now, expiresAt string, ttl int64) dynamo.TransactWriteItem {
	condExpr := "attribute_not_exists(credential_id)"
	item, _ := dynamo.MarshalMap(refreshCredentialItem{
		CredentialID: credentialID,
		UserID:       userID,
		TokenHash:    tokenHash,
		Family:       family,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		TTL:          ttl,
	})
	return dynamo.TransactWriteItem{
		Put: &dynamo.Put{
			TableName:           &t.credentialTable,
			Item:                item,
			ConditionExpression: &condExpr,
		},
	}
}

// classifyTxError inspects a TransactWriteItems error and wraps it with
// context. For TransactionCanceledException it checks each cancellation
// reason and maps ConditionalCheckFailed to domain.ErrAlreadyExists.
func (t *Transactor) classifyTxError(err error, op string, itemNames ...string) error {
	reasons, ok := dynamo.IsTransactionCanceledException(err)
	if !ok {
		return fmt.Errorf("transactor: %s: %w", op, err)
	}

	for i, reason := range reasons {
		if reason == "ConditionalCheckFailed" {
			name := "unknown"
			if i < len(itemNames) {
				name = itemNames[i]
			}
			return fmt.Errorf("transactor: %s: item %d (%s) condition failed: %w",
				op, i, name, domain.ErrAlreadyExists)
		}
	}

	return fmt.Errorf("transactor: %s: transaction canceled: %w", op, err)
}
