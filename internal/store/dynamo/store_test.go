package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/fatflowers/cashier-receipts/internal/models"
	"github.com/fatflowers/cashier-receipts/internal/store"
	"github.com/fatflowers/cashier-receipts/internal/store/storetest"
)

// fakeDynamo is a single-table DynamoDB stand-in that understands the
// handful of expressions the store issues.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
	fail  error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func str(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	return str(item[attrPK]) + "\x00" + str(item[attrSK])
}

func (f *fakeDynamo) check(item map[string]types.AttributeValue, cond *string, values map[string]types.AttributeValue) bool {
	existing, exists := f.items[itemKey(item)]
	switch sdkaws.ToString(cond) {
	case "":
		return true
	case condNotExist:
		return !exists
	case condRevision:
		return exists && str(existing["revision"]) == str(values[":rev"])
	}
	panic("unsupported condition " + sdkaws.ToString(cond))
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if !f.check(in.Item, in.ConditionExpression, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: sdkaws.String("conditional check failed")}
	}
	f.items[itemKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	pk, prefix := str(in.ExpressionAttributeValues[":pk"]), str(in.ExpressionAttributeValues[":prefix"])
	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		if str(item[attrPK]) == pk && strings.HasPrefix(str(item[attrSK]), prefix) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return str(out[i][attrSK]) < str(out[j][attrSK]) })
	return &dynamodb.QueryOutput{Items: out}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	seen := map[string]bool{}
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, w := range in.TransactItems {
		k := itemKey(w.Put.Item)
		if seen[k] {
			return nil, fmt.Errorf("ValidationException: multiple operations on one item %q", k)
		}
		seen[k] = true
		reasons[i].Code = sdkaws.String("None")
		if !f.check(w.Put.Item, w.Put.ConditionExpression, w.Put.ExpressionAttributeValues) {
			reasons[i].Code = sdkaws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{Message: sdkaws.String("transaction cancelled"), CancellationReasons: reasons}
	}
	for _, w := range in.TransactItems {
		f.items[itemKey(w.Put.Item)] = w.Put.Item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableName: in.TableName}}, nil
}

func TestStore_DynamoDB(t *testing.T) {
	fake := newFakeDynamo()
	testStore := New(fake, "cashier_receipts")
	teardown := func() {
		fake.mu.Lock()
		fake.items = map[string]map[string]types.AttributeValue{}
		fake.mu.Unlock()
	}
	storetest.RunStoreTests(t, testStore, teardown)
}

func TestStore_ThrottledCancellationIsUnavailable(t *testing.T) {
	fake := newFakeDynamo()
	u := pendingTx(t, New(fake, "t"))
	fake.fail = &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: sdkaws.String("ThrottlingError")}},
	}
	err := u.commit(context.Background())
	require.ErrorIs(t, err, store.ErrStorageUnavailable)
}

func TestStore_TransportErrorsAreUnavailable(t *testing.T) {
	fake := newFakeDynamo()
	fake.fail = errors.New("connection reset")
	s := New(fake, "t")
	ctx := context.Background()

	_, err := s.TryInsert(ctx, &models.LedgerEntry{TransactionID: "1"})
	require.ErrorIs(t, err, store.ErrStorageUnavailable)
	_, err = s.CurrentEntitlement(ctx, "u1", "pro")
	require.ErrorIs(t, err, store.ErrStorageUnavailable)
	require.ErrorIs(t, s.Ping(ctx), store.ErrStorageUnavailable)
}

func TestStore_SubmissionLogKeepsResult(t *testing.T) {
	fake := newFakeDynamo()
	s := New(fake, "t")
	log := &models.SubmissionLog{
		ID:     "log-1",
		UserID: "u1",
		Result: datatypes.NewJSONType(models.SubmissionResult{NewlyProcessed: []string{"1"}, Products: []string{"pro"}}),
	}
	require.NoError(t, s.SaveSubmissionLog(context.Background(), log))

	item := fake.items[logPK("log-1")+"\x00"+skLog]
	require.JSONEq(t, `{"newly_processed":["1"],"products":["pro"]}`, str(item["result_json"]))
	require.Equal(t, "u1", str(item["user_id"]))
}

// pendingTx returns a unit of work holding one pending write.
func pendingTx(t *testing.T, s *Store) *tx {
	t.Helper()
	u := newTx(s)
	ok, err := u.TryInsert(context.Background(), &models.LedgerEntry{TransactionID: "1"})
	require.NoError(t, err)
	require.True(t, ok)
	return u
}
