package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridewise/authcore/internal/domain"
	"github.com/ridewise/authcore/internal/dynamo"
)

// ---------------------------------------------------------------------------
// Stub — implements userDynamoDB for unit tests.
// ---------------------------------------------------------------------------

type stubUserDynamo struct {
	getItemFn    func(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
	putItemFn    func(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error)
	queryFn      func(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error)
	updateItemFn func(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error)
}

func (s *stubUserDynamo) GetItem(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
	return s.getItemFn(ctx, params, optFns...)
}

func (s *stubUserDynamo) PutItem(ctx context.Context, params *dynamo.PutItemInput, optFns ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
	return s.putItemFn(ctx, params, optFns...)
}

func (s *stubUserDynamo) Query(ctx context.Context, params *dynamo.QueryInput, optFns ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
	return s.queryFn(ctx, params, optFns...)
}

func (s *stubUserDynamo) UpdateItem(ctx context.Context, params *dynamo.UpdateItemInput, optFns ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
	return s.updateItemFn(ctx, params, optFns...)
}

var _ userDynamoDB = (*stubUserDynamo)(nil)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const usersTable = "users"

func sampleUserItem() userItem {
	return userItem{
		UserID:      "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
		PhoneHash:   "phonehash123",
		CountryCode: "+1",
		UserType:    nil,
		Verified:    false,
		Blocked:     false,
		CreatedAt:   "2026-02-10T12:00:00Z",
		UpdatedAt:   "2026-02-10T12:00:00Z",
	}
}

// ---------------------------------------------------------------------------
// Tests — Create
// ---------------------------------------------------------------------------

func TestUserStore_Create(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		stub := &stubUserDynamo{
			putItemFn: func(_ context.Context, params *dynamo.PutItemInput, _ ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
				assert.Equal(t, usersTable, *params.TableName)
				assert.Contains(t, *params.ConditionExpression, "attribute_not_exists(user_id)")
				return &dynamo.PutItemOutput{}, nil
			},
		}
		store := NewUserStore(stub, usersTable)

		err := store.Create(context.Background(), UserRecord(sampleUserItem()))

		require.NoError(t, err)
	})

	t.Run("already exists", func(t *testing.T) {
		stub := &stubUserDynamo{
			putItemFn: func(_ context.Context, _ *dynamo.PutItemInput, _ ...func(*dynamo.Options)) (*dynamo.PutItemOutput, error) {
				return nil, dynamo.ErrConditionalCheckFailed()
			},
		}
		store := NewUserStore(stub, usersTable)

		err := store.Create(context.Background(), UserRecord(sampleUserItem()))

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})
}

// ---------------------------------------------------------------------------
// Tests — GetByID
// ---------------------------------------------------------------------------

func TestUserStore_GetByID(t *testing.T) {
	tests := []struct {
		name      string
		getItemFn func(ctx context.Context, params *dynamo.GetItemInput, optFns ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error)
		wantErr   error
		errSubstr string
	}{
		{
			name: "success - returns parsed user record",
			getItemFn: func(_ context.Context, params *dynamo.GetItemInput, _ ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
				assert.Equal(t, usersTable, *params.TableName)
				require.NotNil(t, params.ConsistentRead)
				assert.True(t, *params.ConsistentRead)

				item := sampleUserItem()
				av, err := dynamo.MarshalMap(item)
				require.NoError(t, err)
				return &dynamo.GetItemOutput{Item: av}, nil
			},
		},
		{
			name: "not found - nil item returns ErrNotFound",
			getItemFn: func(_ context.Context, _ *dynamo.GetItemInput, _ ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
				return &dynamo.GetItemOutput{Item: nil}, nil
			},
			wantErr: domain.ErrNotFound,
		},
		{
			name: "dynamo error - wraps with context",
			getItemFn: func(_ context.Context, _ *dynamo.GetItemInput, _ ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
				return nil, errors.New("connection refused")
			},
			errSubstr: "user store: get by id: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewUserStore(&stubUserDynamo{getItemFn: tt.getItemFn}, usersTable)

			rec, err := store.GetByID(context.Background(), "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, rec)
				return
			}
			if tt.errSubstr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errSubstr)
				assert.Nil(t, rec)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, rec)
			want := sampleUserItem()
			assert.Equal(t, want.UserID, rec.UserID)
			assert.Equal(t, want.PhoneHash, rec.PhoneHash)
			assert.Equal(t, want.CountryCode, rec.CountryCode)
		})
	}
}

// ---------------------------------------------------------------------------
// Tests — FindByPhoneHash
// ---------------------------------------------------------------------------

func TestUserStore_FindByPhoneHash(t *testing.T) {
	t.Run("success - queries GSI then fetches full record", func(t *testing.T) {
		item := sampleUserItem()
		av, err := dynamo.MarshalMap(item)
		require.NoError(t, err)

		stub := &stubUserDynamo{
			queryFn: func(_ context.Context, params *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				assert.Equal(t, usersTable, *params.TableName)
				assert.NotNil(t, params.IndexName)
				assert.Equal(t, "phone_hash-index", *params.IndexName)
				assert.Contains(t, *params.KeyConditionExpression, "phone_hash = :ph")

				projected, marshalErr := dynamo.MarshalMap(struct {
					UserID string `dynamodbav:"user_id"`
				}{UserID: item.UserID})
				require.NoError(t, marshalErr)
				return &dynamo.QueryOutput{
					Items: []map[string]dynamo.AttributeValue{projected},
				}, nil
			},
			getItemFn: func(_ context.Context, params *dynamo.GetItemInput, _ ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
				keySV, ok := params.Key["user_id"].(*dynamo.AttributeValueMemberS)
				require.True(t, ok)
				assert.Equal(t, item.UserID, keySV.Value)
				return &dynamo.GetItemOutput{Item: av}, nil
			},
		}

		store := NewUserStore(stub, usersTable)

		rec, err := store.FindByPhoneHash(context.Background(), "phonehash123")

		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, item.UserID, rec.UserID)
		assert.Equal(t, item.PhoneHash, rec.PhoneHash)
	})

	t.Run("not found - empty GSI result returns ErrNotFound", func(t *testing.T) {
		stub := &stubUserDynamo{
			queryFn: func(_ context.Context, _ *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return &dynamo.QueryOutput{Items: nil}, nil
			},
		}
		store := NewUserStore(stub, usersTable)

		rec, err := store.FindByPhoneHash(context.Background(), "unknownhash")

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Nil(t, rec)
	})

	t.Run("query error - wraps with context", func(t *testing.T) {
		stub := &stubUserDynamo{
			queryFn: func(_ context.Context, _ *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				return nil, errors.New("throttled")
			},
		}
		store := NewUserStore(stub, usersTable)

		rec, err := store.FindByPhoneHash(context.Background(), "phonehash123")

		require.Error(t, err)
		assert.Contains(t, err.Error(), "user store: find by phone hash query: throttled")
		assert.Nil(t, rec)
	})

	t.Run("respects context cancellation between steps", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())

		stub := &stubUserDynamo{
			queryFn: func(_ context.Context, _ *dynamo.QueryInput, _ ...func(*dynamo.Options)) (*dynamo.QueryOutput, error) {
				cancel()
				projected, err := dynamo.MarshalMap(struct {
					UserID string `dynamodbav:"user_id"`
				}{UserID: "some-id"})
				require.NoError(t, err)
				return &dynamo.QueryOutput{
					Items: []map[string]dynamo.AttributeValue{projected},
				}, nil
			},
			getItemFn: func(_ context.Context, _ *dynamo.GetItemInput, _ ...func(*dynamo.Options)) (*dynamo.GetItemOutput, error) {
				t.Fatal("GetItem should not be called after context cancellation")
				return nil, nil
			},
		}
		store := NewUserStore(stub, usersTable)

		_, err := store.FindByPhoneHash(ctx, "phonehash123")

		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

// ---------------------------------------------------------------------------
// Tests — SelectRole
// ---------------------------------------------------------------------------

func TestUserStore_SelectRole(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		stub := &stubUserDynamo{
			updateItemFn: func(_ context.Context, params *dynamo.UpdateItemInput, _ ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
				assert.Contains(t, *params.ConditionExpression, "attribute_not_exists(user_type)")
				roleVal, ok := params.ExpressionAttributeValues[":role"].(*dynamo.AttributeValueMemberS)
				require.True(t, ok)
				assert.Equal(t, "customer", roleVal.Value)
				return &dynamo.UpdateItemOutput{}, nil
			},
		}
		store := NewUserStore(stub, usersTable)

		err := store.SelectRole(context.Background(), "user-1", domain.RoleCustomer, "2026-02-10T12:00:00Z")

		require.NoError(t, err)
	})

	t.Run("role already selected", func(t *testing.T) {
		stub := &stubUserDynamo{
			updateItemFn: func(_ context.Context, _ *dynamo.UpdateItemInput, _ ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
				return nil, dynamo.ErrConditionalCheckFailed()
			},
		}
		store := NewUserStore(stub, usersTable)

		err := store.SelectRole(context.Background(), "user-1", domain.RoleWorker, "2026-02-10T12:00:00Z")

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrRoleAlreadySelected)
	})
}

// ---------------------------------------------------------------------------
// Tests — MarkVerified
// ---------------------------------------------------------------------------

func TestUserStore_MarkVerified(t *testing.T) {
	stub := &stubUserDynamo{
		updateItemFn: func(_ context.Context, params *dynamo.UpdateItemInput, _ ...func(*dynamo.Options)) (*dynamo.UpdateItemOutput, error) {
			vVal, ok := params.ExpressionAttributeValues[":v"].(*dynamo.AttributeValueMemberBOOL)
			require.True(t, ok)
			assert.True(t, vVal.Value)
			return &dynamo.UpdateItemOutput{}, nil
		},
	}
	store := NewUserStore(stub, usersTable)

	err := store.MarkVerified(context.Background(), "user-1", "2026-02-10T12:00:00Z")

	require.NoError(t, err)
}
