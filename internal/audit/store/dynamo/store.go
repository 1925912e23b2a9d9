// Package dynamo implements the store contract on DynamoDB.
package dynamo

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"scribe/internal/audit/models"
	"scribe/internal/audit/store"
)

// API is the subset of the DynamoDB client this store uses.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Store binds the store contract to one DynamoDB table.
type Store struct {
	client API
	table  string
}

// New creates a DynamoDB-backed store for the given table.
func New(client API, table string) *Store {
	return &Store{client: client, table: table}
}

// Table returns the bound table name.
func (s *Store) Table() string { return s.table }

// PutItem writes the record as an unconditional upsert.
func (s *Store) PutItem(ctx context.Context, record models.Record) error {
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put audit record: %w", err)
	}
	return nil
}

// Query runs a key-conditioned, reverse-ordered query against the base
// table or the named index.
func (s *Store) Query(ctx context.Context, in store.QueryInput) (store.Page, error) {
	values := map[string]types.AttributeValue{}
	names := map[string]string{}

	var keyCond string
	if in.IndexName == "" {
		keyCond = "#pk = :pk"
		names["#pk"] = "PK"
		values[":pk"] = &types.AttributeValueMemberS{Value: in.PartitionKey}
	} else {
		keyCond = "#type = :type"
		names["#type"] = "audit_type"
		values[":type"] = &types.AttributeValueMemberS{Value: in.PartitionKey}
		if in.Range != nil {
			names["#created"] = "created_at"
			switch {
			case in.Range.Start != "" && in.Range.End != "":
				keyCond += " AND #created BETWEEN :start AND :end"
				values[":start"] = &types.AttributeValueMemberS{Value: in.Range.Start}
				values[":end"] = &types.AttributeValueMemberS{Value: in.Range.End}
			case in.Range.Start != "":
				keyCond += " AND #created >= :start"
				values[":start"] = &types.AttributeValueMemberS{Value: in.Range.Start}
			case in.Range.End != "":
				keyCond += " AND #created <= :end"
				values[":end"] = &types.AttributeValueMemberS{Value: in.Range.End}
			}
		}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.table),
		KeyConditionExpression:    aws.String(keyCond),
		ExpressionAttributeValues: values,
		ExpressionAttributeNames:  names,
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(in.Limit)),
	}
	if in.IndexName != "" {
		input.IndexName = aws.String(in.IndexName)
	}
	if filter := filterExpression(in.Filter, values, names); filter != "" {
		input.FilterExpression = aws.String(filter)
	}
	if len(in.StartKey) > 0 {
		input.ExclusiveStartKey = marshalKey(in.StartKey)
	}

	out, err := s.client.Query(ctx, input)
	if err != nil {
		return store.Page{}, fmt.Errorf("query audit records: %w", err)
	}
	return s.page(out.Items, out.Count, out.ScannedCount, out.LastEvaluatedKey)
}

// Scan runs a full-table read with the filters applied server-side.
func (s *Store) Scan(ctx context.Context, in store.ScanInput) (store.Page, error) {
	input := &dynamodb.ScanInput{
		TableName: aws.String(s.table),
		Limit:     aws.Int32(int32(in.Limit)),
	}
	if in.Filter != nil {
		values := map[string]types.AttributeValue{}
		names := map[string]string{}
		var conds []string
		if expr := filterExpression(&store.Filter{ActorID: in.Filter.ActorID, Event: in.Filter.Event}, values, names); expr != "" {
			conds = append(conds, expr)
		}
		if in.Filter.StartDate != "" {
			names["#created"] = "created_at"
			conds = append(conds, "#created >= :start")
			values[":start"] = &types.AttributeValueMemberS{Value: in.Filter.StartDate}
		}
		if in.Filter.EndDate != "" {
			names["#created"] = "created_at"
			conds = append(conds, "#created <= :end")
			values[":end"] = &types.AttributeValueMemberS{Value: in.Filter.EndDate}
		}
		if len(conds) > 0 {
			input.FilterExpression = aws.String(strings.Join(conds, " AND "))
			input.ExpressionAttributeValues = values
			input.ExpressionAttributeNames = names
		}
	}
	if len(in.StartKey) > 0 {
		input.ExclusiveStartKey = marshalKey(in.StartKey)
	}

	out, err := s.client.Scan(ctx, input)
	if err != nil {
		return store.Page{}, fmt.Errorf("scan audit records: %w", err)
	}
	return s.page(out.Items, out.Count, out.ScannedCount, out.LastEvaluatedKey)
}

// DescribeIndex reports the status of the named secondary index.
func (s *Store) DescribeIndex(ctx context.Context, indexName string) (store.IndexStatus, error) {
	out, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.table),
	})
	if err != nil {
		return store.IndexStatus{}, fmt.Errorf("describe table: %w", err)
	}
	for _, gsi := range out.Table.GlobalSecondaryIndexes {
		if aws.ToString(gsi.IndexName) == indexName {
			return store.IndexStatus{Exists: true, Status: string(gsi.IndexStatus)}, nil
		}
	}
	return store.IndexStatus{}, nil
}

func (s *Store) page(items []map[string]types.AttributeValue, count, scanned int32, lastKey map[string]types.AttributeValue) (store.Page, error) {
	records := make([]models.Record, 0, len(items))
	for _, item := range items {
		var rec models.Record
		if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
			return store.Page{}, fmt.Errorf("unmarshal audit record: %w", err)
		}
		records = append(records, rec)
	}
	return store.Page{
		Items:        records,
		Count:        int(count),
		ScannedCount: int(scanned),
		LastKey:      unmarshalKey(lastKey),
	}, nil
}

// Key attributes (PK, SK, audit_type, created_at) are all strings, so page
// keys round-trip through a plain string map.
func marshalKey(key models.PageKey) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(key))
	for k, v := range key {
		out[k] = &types.AttributeValueMemberS{Value: v}
	}
	return out
}

func unmarshalKey(key map[string]types.AttributeValue) models.PageKey {
	if len(key) == 0 {
		return nil
	}
	out := make(models.PageKey, len(key))
	for k, v := range key {
		if s, ok := v.(*types.AttributeValueMemberS); ok {
			out[k] = s.Value
		}
	}
	return out
}

func filterExpression(f *store.Filter, values map[string]types.AttributeValue, names map[string]string) string {
	if f == nil {
		return ""
	}
	var conds []string
	if f.ActorID != "" {
		names["#actor"] = "actor_id"
		conds = append(conds, "#actor = :actor")
		values[":actor"] = &types.AttributeValueMemberS{Value: f.ActorID}
	}
	if f.Event != "" {
		names["#event"] = "event"
		conds = append(conds, "#event = :event")
		values[":event"] = &types.AttributeValueMemberS{Value: f.Event}
	}
	return strings.Join(conds, " AND ")
}
