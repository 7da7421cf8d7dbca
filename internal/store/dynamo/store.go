// Package dynamo keeps the ledger, transactions and entitlement versions in
// a single DynamoDB table. A unit of work is buffered and committed with one
// TransactWriteItems call guarded by conditions on the ledger key and on the
// revision of the current entitlement item.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/fatflowers/cashier-receipts/internal/models"
	awsplatform "github.com/fatflowers/cashier-receipts/internal/platform/aws"
	"github.com/fatflowers/cashier-receipts/internal/store"
)

const (
	attrPK = "pk"
	attrSK = "sk"

	skLedger     = "LEDGER"
	skCurrent    = "CURRENT"
	skLog        = "LOG"
	prefixTxn    = "TXN#"
	prefixHist   = "HIST#"
	condNotExist = "attribute_not_exists(pk)"
	condRevision = "#rev = :rev"
)

func ledgerPK(id string) string                    { return "LEDGER#" + id }
func transactionsPK(userID, product string) string { return "USER#" + userID + "#PRODUCT#" + product }
func entitlementPK(userID, product string) string  { return "ENT#" + userID + "#" + product }
func historySK(revision int64) string              { return fmt.Sprintf("%s%020d", prefixHist, revision) }
func logPK(id string) string                       { return "SUBMISSION#" + id }

type ledgerItem struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	models.LedgerEntry
}

type transactionItem struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	models.Transaction
}

type entitlementItem struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	models.EntitlementState
}

type logItem struct {
	PK string `dynamodbav:"pk"`
	SK string `dynamodbav:"sk"`
	models.SubmissionLog
	ResultJSON string `dynamodbav:"result_json"`
}

type Store struct {
	client awsplatform.DynamoDBAPI
	table  string
	now    func() time.Time
}

func New(client awsplatform.DynamoDBAPI, table string) *Store {
	return &Store{client: client, table: table, now: time.Now}
}

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: pk},
		attrSK: &types.AttributeValueMemberS{Value: sk},
	}
}

// classify maps SDK errors onto the store sentinels.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) {
		for _, r := range canceled.CancellationReasons {
			code := sdkaws.ToString(r.Code)
			if code == "ConditionalCheckFailed" || code == "TransactionConflict" {
				return fmt.Errorf("%w: %s: %v", store.ErrConflict, op, err)
			}
		}
		return fmt.Errorf("%w: %s: %v", store.ErrStorageUnavailable, op, err)
	}
	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return fmt.Errorf("%w: %s: %v", store.ErrConflict, op, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "TransactionConflictException" {
		return fmt.Errorf("%w: %s: %v", store.ErrConflict, op, err)
	}
	return fmt.Errorf("%w: %s: %v", store.ErrStorageUnavailable, op, err)
}

func (s *Store) getItem(ctx context.Context, pk, sk string, out interface{}) (bool, error) {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.table,
		Key:            key(pk, sk),
		ConsistentRead: sdkaws.Bool(true),
	})
	if err != nil {
		return false, classify("get item", err)
	}
	if len(res.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, fmt.Errorf("%w: unmarshal %s/%s: %v", store.ErrStorageUnavailable, pk, sk, err)
	}
	return true, nil
}

// query returns every item of partition pk whose sort key starts with prefix, in sort key order.
func (s *Store) query(ctx context.Context, pk, prefix string) ([]map[string]types.AttributeValue, error) {
	var (
		items []map[string]types.AttributeValue
		start map[string]types.AttributeValue
	)
	for {
		res, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              &s.table,
			KeyConditionExpression: sdkaws.String("pk = :pk AND begins_with(sk, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: pk},
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
			ConsistentRead:    sdkaws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, classify("query", err)
		}
		items = append(items, res.Items...)
		if len(res.LastEvaluatedKey) == 0 {
			return items, nil
		}
		start = res.LastEvaluatedKey
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	t := newTx(s)
	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit(ctx)
}

func (s *Store) TryInsert(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = s.now()
	}
	item, err := attributevalue.MarshalMap(ledgerItem{PK: ledgerPK(entry.TransactionID), SK: skLedger, LedgerEntry: *entry})
	if err != nil {
		return false, fmt.Errorf("%w: marshal ledger entry: %v", store.ErrStorageUnavailable, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &s.table,
		Item:                item,
		ConditionExpression: sdkaws.String(condNotExist),
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return false, nil
		}
		return false, classify("put ledger entry", err)
	}
	return true, nil
}

func (s *Store) Contains(ctx context.Context, transactionID string) (bool, error) {
	var item ledgerItem
	return s.getItem(ctx, ledgerPK(transactionID), skLedger, &item)
}

func (s *Store) GetLedgerEntry(ctx context.Context, transactionID string) (*models.LedgerEntry, error) {
	var item ledgerItem
	found, err := s.getItem(ctx, ledgerPK(transactionID), skLedger, &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return &item.LedgerEntry, nil
}

func (s *Store) CurrentEntitlement(ctx context.Context, userID, productID string) (*models.EntitlementState, error) {
	var item entitlementItem
	found, err := s.getItem(ctx, entitlementPK(userID, productID), skCurrent, &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return &item.EntitlementState, nil
}

func (s *Store) EntitlementHistory(ctx context.Context, userID, productID string) ([]*models.EntitlementState, error) {
	items, err := s.query(ctx, entitlementPK(userID, productID), prefixHist)
	if err != nil {
		return nil, err
	}
	out := make([]*models.EntitlementState, 0, len(items))
	for _, raw := range items {
		var item entitlementItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: unmarshal entitlement: %v", store.ErrStorageUnavailable, err)
		}
		e := item.EntitlementState
		out = append(out, &e)
	}
	return out, nil
}

func (s *Store) SaveSubmissionLog(ctx context.Context, log *models.SubmissionLog) error {
	now := s.now()
	c := *log
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	result, err := c.Result.MarshalJSON()
	if err != nil {
		return fmt.Errorf("%w: marshal submission result: %v", store.ErrStorageUnavailable, err)
	}
	item, err := attributevalue.MarshalMap(logItem{PK: logPK(c.ID), SK: skLog, SubmissionLog: c, ResultJSON: string(result)})
	if err != nil {
		return fmt.Errorf("%w: marshal submission log: %v", store.ErrStorageUnavailable, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: &s.table, Item: item})
	return classify("put submission log", err)
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &s.table})
	return classify("describe table", err)
}

type pendingWrite struct {
	put *types.Put
}

// tx buffers writes and overlays them on reads so a unit of work sees its
// own changes before commit.
type tx struct {
	s *Store

	order  []string
	writes map[string]*pendingWrite

	ledger       map[string]*models.LedgerEntry
	transactions map[string]*models.Transaction
	current      map[string]*models.EntitlementState
}

func newTx(s *Store) *tx {
	return &tx{
		s:            s,
		writes:       map[string]*pendingWrite{},
		ledger:       map[string]*models.LedgerEntry{},
		transactions: map[string]*models.Transaction{},
		current:      map[string]*models.EntitlementState{},
	}
}

// put queues item. A later put of the same key replaces the item but keeps
// the first condition, which guards the state read from the table.
func (t *tx) put(pk, sk string, v interface{}, condition string, names map[string]string, values map[string]types.AttributeValue) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("%w: marshal %s/%s: %v", store.ErrStorageUnavailable, pk, sk, err)
	}
	k := pk + "\x00" + sk
	if w, ok := t.writes[k]; ok {
		w.put.Item = item
		return nil
	}
	p := &types.Put{TableName: &t.s.table, Item: item}
	if condition != "" {
		p.ConditionExpression = sdkaws.String(condition)
		if len(names) > 0 {
			p.ExpressionAttributeNames = names
		}
		if len(values) > 0 {
			p.ExpressionAttributeValues = values
		}
	}
	t.writes[k] = &pendingWrite{put: p}
	t.order = append(t.order, k)
	return nil
}

func (t *tx) commit(ctx context.Context) error {
	if len(t.order) == 0 {
		return nil
	}
	items := make([]types.TransactWriteItem, 0, len(t.order))
	for _, k := range t.order {
		items = append(items, types.TransactWriteItem{Put: t.writes[k].put})
	}
	_, err := t.s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return classify("transact write", err)
}

func (t *tx) ledgerEntry(ctx context.Context, id string) (*models.LedgerEntry, error) {
	if e, ok := t.ledger[id]; ok {
		return e, nil
	}
	var item ledgerItem
	found, err := t.s.getItem(ctx, ledgerPK(id), skLedger, &item)
	if err != nil || !found {
		return nil, err
	}
	return &item.LedgerEntry, nil
}

func (t *tx) TryInsert(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	existing, err := t.ledgerEntry(ctx, entry.TransactionID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}
	e := *entry
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = t.s.now()
	}
	if err := t.put(ledgerPK(e.TransactionID), skLedger, ledgerItem{PK: ledgerPK(e.TransactionID), SK: skLedger, LedgerEntry: e}, condNotExist, nil, nil); err != nil {
		return false, err
	}
	t.ledger[e.TransactionID] = &e
	return true, nil
}

func (t *tx) Contains(ctx context.Context, transactionID string) (bool, error) {
	e, err := t.ledgerEntry(ctx, transactionID)
	return e != nil, err
}

func (t *tx) SaveTransaction(ctx context.Context, in *models.Transaction) error {
	now := t.s.now()
	row := *in
	existing, err := t.GetTransaction(ctx, in.TransactionID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if row.CreatedAt.IsZero() {
			row.CreatedAt = now
		}
	case err != nil:
		return err
	default:
		row = *existing
		row.ExpiresAt = in.ExpiresAt
		row.RevokedAt = in.RevokedAt
		row.RevocationReason = in.RevocationReason
	}
	row.UpdatedAt = now

	pk := transactionsPK(row.UserID, row.ProductID)
	sk := prefixTxn + row.TransactionID
	if err := t.put(pk, sk, transactionItem{PK: pk, SK: sk, Transaction: row}, "", nil, nil); err != nil {
		return err
	}
	t.transactions[row.TransactionID] = &row
	return nil
}

// GetTransaction finds the owner through the grant ledger entry, which is
// always written together with the transaction.
func (t *tx) GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	if row, ok := t.transactions[transactionID]; ok {
		c := *row
		return &c, nil
	}
	entry, err := t.ledgerEntry(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, store.ErrNotFound
	}
	var item transactionItem
	found, err := t.s.getItem(ctx, transactionsPK(entry.UserID, entry.ProductID), prefixTxn+transactionID, &item)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return &item.Transaction, nil
}

func (t *tx) ListTransactions(ctx context.Context, userID, productID string) ([]*models.Transaction, error) {
	items, err := t.s.query(ctx, transactionsPK(userID, productID), prefixTxn)
	if err != nil {
		return nil, err
	}
	byID := map[string]*models.Transaction{}
	for _, raw := range items {
		var item transactionItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("%w: unmarshal transaction: %v", store.ErrStorageUnavailable, err)
		}
		row := item.Transaction
		byID[row.TransactionID] = &row
	}
	for id, row := range t.transactions {
		if row.UserID == userID && row.ProductID == productID {
			c := *row
			byID[id] = &c
		}
	}

	out := make([]*models.Transaction, 0, len(byID))
	for _, row := range byID {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PurchaseAt.Equal(out[j].PurchaseAt) {
			return out[i].PurchaseAt.Before(out[j].PurchaseAt)
		}
		return strings.Compare(out[i].TransactionID, out[j].TransactionID) < 0
	})
	return out, nil
}

func (t *tx) LockCurrentEntitlement(ctx context.Context, userID, productID string) (*models.EntitlementState, error) {
	k := store.EntitlementKey(userID, productID)
	if cur, ok := t.current[k]; ok {
		return cur.Clone(), nil
	}
	var item entitlementItem
	found, err := t.s.getItem(ctx, entitlementPK(userID, productID), skCurrent, &item)
	if err != nil || !found {
		return nil, err
	}
	return &item.EntitlementState, nil
}

func (t *tx) SupersedeEntitlement(_ context.Context, prev, next *models.EntitlementState) error {
	now := t.s.now()
	pk := entitlementPK(next.UserID, next.ProductID)

	row := next.Clone()
	row.SupersededAt, row.SupersededBy = nil, nil
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}

	var (
		cond   = condNotExist
		names  map[string]string
		values map[string]types.AttributeValue
	)
	if prev != nil {
		cond = condRevision
		names = map[string]string{"#rev": "revision"}
		values = map[string]types.AttributeValue{
			":rev": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", prev.Revision)},
		}
	}
	if err := t.put(pk, skCurrent, entitlementItem{PK: pk, SK: skCurrent, EntitlementState: *row}, cond, names, values); err != nil {
		return err
	}
	if err := t.put(pk, historySK(row.Revision), entitlementItem{PK: pk, SK: historySK(row.Revision), EntitlementState: *row}, condNotExist, nil, nil); err != nil {
		return err
	}
	if prev != nil {
		old := prev.Clone()
		old.SupersededAt = &now
		id := row.ID
		old.SupersededBy = &id
		if err := t.put(pk, historySK(old.Revision), entitlementItem{PK: pk, SK: historySK(old.Revision), EntitlementState: *old}, "", nil, nil); err != nil {
			return err
		}
	}
	t.current[store.EntitlementKey(next.UserID, next.ProductID)] = row
	return nil
}
