// Package store provides item and vote-audit storage backends for Paradiso.
//
// This file implements the DynamoDB-backed store. Items live in one table
// keyed by "id"; vote records live in another keyed by "user_token" (hash)
// and "item_id" (range), so a conditional put is the duplicate guard.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/BTreeMap/Paradiso/internal/models"
)

// DynamoAPI is the minimal DynamoDB interface required by DynamoStore.
// *dynamodb.Client satisfies it.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore implements Store over two DynamoDB tables.
type DynamoStore struct {
	api        DynamoAPI
	itemsTable string
	votesTable string
	nextTask   atomic.Int64
}

// NewDynamoStore creates a DynamoStore. WithDynamoAPI and WithDynamoTables are required.
func NewDynamoStore(opts ...Option) (*DynamoStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Dynamo == nil {
		return nil, errors.New("store: dynamodb api must not be nil")
	}
	if strings.TrimSpace(cfg.ItemsTable) == "" || strings.TrimSpace(cfg.VotesTable) == "" {
		return nil, errors.New("store: dynamodb table names must not be empty")
	}
	slog.Debug("NewDynamoStore invoked", "items_table", cfg.ItemsTable, "votes_table", cfg.VotesTable)
	return &DynamoStore{api: cfg.Dynamo, itemsTable: cfg.ItemsTable, votesTable: cfg.VotesTable}, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *DynamoStore) Search(ctx context.Context, query string, opts SearchOptions) (SearchResult, error) {
	// DynamoDB has no text index; scan and rank locally.
	items, err := CollectAll(ctx, s, DefaultBrowsePageSize)
	if err != nil {
		return SearchResult{}, err
	}
	return searchItems(items, query, opts)
}

func (s *DynamoStore) GetItem(ctx context.Context, id string) (models.Item, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.itemsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		slog.Error("DynamoStore.GetItem failed", "item_id", id, "error", err)
		return models.Item{}, fmt.Errorf("store: GetItem %s: %w", id, err)
	}
	if out == nil || len(out.Item) == 0 {
		return models.Item{}, ErrNotFound
	}
	return attrsToItem(out.Item)
}

func (s *DynamoStore) InsertItem(ctx context.Context, item models.Item) error {
	if item.ID == "" {
		return errors.New("store: InsertItem: id is required")
	}
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.itemsTable),
		Item:                itemToAttrs(item),
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrDuplicate
		}
		slog.Error("DynamoStore.InsertItem failed", "item_id", item.ID, "error", err)
		return fmt.Errorf("store: InsertItem %s: %w", item.ID, err)
	}
	return nil
}

// PartialUpdate issues an atomic ADD on the votes attribute.
func (s *DynamoStore) PartialUpdate(ctx context.Context, id string, updates map[string]Update) (TaskHandle, error) {
	delta, err := validateUpdates(updates)
	if err != nil {
		return TaskHandle{}, err
	}
	_, err = s.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.itemsTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("ADD votes :delta"),
		ConditionExpression: aws.String("attribute_exists(id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":delta": &types.AttributeValueMemberN{Value: strconv.Itoa(delta)},
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return TaskHandle{}, ErrNotFound
		}
		slog.Error("DynamoStore.PartialUpdate failed", "item_id", id, "error", err)
		return TaskHandle{}, fmt.Errorf("store: PartialUpdate %s: %w", id, err)
	}
	return TaskHandle{ID: fmt.Sprintf("dynamodb_%d", s.nextTask.Add(1))}, nil
}

// WaitForTask returns immediately: GetItem reads with ConsistentRead.
func (s *DynamoStore) WaitForTask(ctx context.Context, task TaskHandle) error {
	return ctx.Err()
}

func (s *DynamoStore) Browse(ctx context.Context, pageSize int) iter.Seq2[models.Item, error] {
	if pageSize <= 0 {
		pageSize = DefaultBrowsePageSize
	}
	return func(yield func(models.Item, error) bool) {
		var startKey map[string]types.AttributeValue
		for {
			out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
				TableName:         aws.String(s.itemsTable),
				Limit:             aws.Int32(int32(pageSize)),
				ExclusiveStartKey: startKey,
			})
			if err != nil {
				slog.Error("DynamoStore.Browse: scan failed", "error", err)
				yield(models.Item{}, fmt.Errorf("store: Browse scan: %w", err))
				return
			}
			for _, raw := range out.Items {
				it, err := attrsToItem(raw)
				if !yield(it, err) || err != nil {
					return
				}
			}
			if len(out.LastEvaluatedKey) == 0 {
				return
			}
			startKey = out.LastEvaluatedKey
		}
	}
}

func (s *DynamoStore) HasVote(ctx context.Context, userToken, itemID string) (bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.votesTable),
		Key: map[string]types.AttributeValue{
			"user_token": &types.AttributeValueMemberS{Value: userToken},
			"item_id":    &types.AttributeValueMemberS{Value: itemID},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		slog.Error("DynamoStore.HasVote failed", "item_id", itemID, "error", err)
		return false, fmt.Errorf("store: HasVote: %w", err)
	}
	return out != nil && len(out.Item) > 0, nil
}

func (s *DynamoStore) AppendVote(ctx context.Context, rec models.VoteRecord) error {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.votesTable),
		Item: map[string]types.AttributeValue{
			"user_token": &types.AttributeValueMemberS{Value: rec.UserToken},
			"item_id":    &types.AttributeValueMemberS{Value: rec.ItemID},
			"id":         &types.AttributeValueMemberS{Value: rec.ID},
			"timestamp":  &types.AttributeValueMemberS{Value: rec.Timestamp.UTC().Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(user_token) AND attribute_not_exists(item_id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return ErrDuplicate
		}
		slog.Error("DynamoStore.AppendVote failed", "item_id", rec.ItemID, "error", err)
		return fmt.Errorf("store: AppendVote: %w", err)
	}
	return nil
}

func (s *DynamoStore) ListVotes(ctx context.Context, userToken string) ([]models.VoteRecord, error) {
	var (
		out      []models.VoteRecord
		startKey map[string]types.AttributeValue
	)
	for {
		res, err := s.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.votesTable),
			KeyConditionExpression: aws.String("user_token = :t"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":t": &types.AttributeValueMemberS{Value: userToken},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("store: ListVotes: %w", err)
		}
		for _, raw := range res.Items {
			v := models.VoteRecord{UserToken: userToken}
			v.ItemID, _ = strAttr(raw, "item_id")
			v.ID, _ = strAttr(raw, "id")
			if ts, err := strAttr(raw, "timestamp"); err == nil {
				v.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
			}
			out = append(out, v)
		}
		if len(res.LastEvaluatedKey) == 0 {
			sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
			return out, nil
		}
		startKey = res.LastEvaluatedKey
	}
}

// Close is a no-op; the SDK client has no connection to release.
func (s *DynamoStore) Close() error { return nil }

func itemToAttrs(it models.Item) map[string]types.AttributeValue {
	m := map[string]types.AttributeValue{
		"id":        &types.AttributeValueMemberS{Value: it.ID},
		"title":     &types.AttributeValueMemberS{Value: it.Title},
		"votes":     &types.AttributeValueMemberN{Value: strconv.Itoa(it.Votes)},
		"addedDate": &types.AttributeValueMemberS{Value: it.AddedDate.UTC().Format(time.RFC3339Nano)},
		"actors":    listAttr(it.Actors),
		"genre":     listAttr(it.Genre),
	}
	optional := map[string]string{
		"originalTitle": it.OriginalTitle,
		"director":      it.Director,
		"plot":          it.Description,
		"image":         it.Image,
		"source":        it.Source,
		"addedBy":       it.AddedBy,
	}
	for k, v := range optional {
		if v != "" {
			m[k] = &types.AttributeValueMemberS{Value: v}
		}
	}
	if it.Year != nil {
		m["year"] = &types.AttributeValueMemberN{Value: strconv.Itoa(*it.Year)}
	}
	if it.Rating != nil {
		m["rating"] = &types.AttributeValueMemberN{Value: strconv.FormatFloat(*it.Rating, 'f', -1, 64)}
	}
	return m
}

func attrsToItem(m map[string]types.AttributeValue) (models.Item, error) {
	var it models.Item
	var err error
	if it.ID, err = strAttr(m, "id"); err != nil {
		return it, err
	}
	if it.Title, err = strAttr(m, "title"); err != nil {
		return it, err
	}
	if it.Votes, err = intAttr(m, "votes"); err != nil {
		it.Votes = 0
	}
	it.OriginalTitle, _ = strAttr(m, "originalTitle")
	it.Director, _ = strAttr(m, "director")
	it.Description, _ = strAttr(m, "plot")
	it.Image, _ = strAttr(m, "image")
	it.Source, _ = strAttr(m, "source")
	it.AddedBy, _ = strAttr(m, "addedBy")
	if ts, err := strAttr(m, "addedDate"); err == nil {
		it.AddedDate, _ = time.Parse(time.RFC3339Nano, ts)
	}
	if y, err := intAttr(m, "year"); err == nil {
		it.Year = &y
	}
	if n, ok := m["rating"].(*types.AttributeValueMemberN); ok {
		if r, err := strconv.ParseFloat(n.Value, 64); err == nil {
			it.Rating = &r
		}
	}
	it.Actors = listValue(m["actors"])
	it.Genre = listValue(m["genre"])
	return it, nil
}

func listAttr(list []string) types.AttributeValue {
	vals := make([]types.AttributeValue, len(list))
	for i, s := range list {
		vals[i] = &types.AttributeValueMemberS{Value: s}
	}
	return &types.AttributeValueMemberL{Value: vals}
}

func listValue(av types.AttributeValue) []string {
	l, ok := av.(*types.AttributeValueMemberL)
	if !ok || len(l.Value) == 0 {
		return nil
	}
	out := make([]string, 0, len(l.Value))
	for _, v := range l.Value {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			out = append(out, s.Value)
		}
	}
	return out
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("store: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("store: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("store: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("store: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("store: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
