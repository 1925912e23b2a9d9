// Package provision creates and inspects the audit table and its date
// index. It backs the scribectl administration commands; the serving path
// never calls it.
package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// API is the subset of the DynamoDB client provisioning uses.
type API interface {
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	UpdateTable(ctx context.Context, in *dynamodb.UpdateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	UpdateTimeToLive(ctx context.Context, in *dynamodb.UpdateTimeToLiveInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error)
}

// Provisioner manages the audit table.
type Provisioner struct {
	client API
	table  string
	index  string
}

func New(client API, table, index string) *Provisioner {
	return &Provisioner{client: client, table: table, index: index}
}

var keyAttributes = []types.AttributeDefinition{
	{AttributeName: aws.String("PK"), AttributeType: types.ScalarAttributeTypeS},
	{AttributeName: aws.String("SK"), AttributeType: types.ScalarAttributeTypeS},
	{AttributeName: aws.String("audit_type"), AttributeType: types.ScalarAttributeTypeS},
	{AttributeName: aws.String("created_at"), AttributeType: types.ScalarAttributeTypeS},
}

func (p *Provisioner) indexSchema() []types.KeySchemaElement {
	return []types.KeySchemaElement{
		{AttributeName: aws.String("audit_type"), KeyType: types.KeyTypeHash},
		{AttributeName: aws.String("created_at"), KeyType: types.KeyTypeRange},
	}
}

// CreateTable creates the audit table with its composite primary key, the
// date index for recent browsing, and on-demand billing, then enables
// store-native expiry on expires_at.
func (p *Provisioner) CreateTable(ctx context.Context) error {
	_, err := p.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:            aws.String(p.table),
		AttributeDefinitions: keyAttributes,
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("PK"), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String("SK"), KeyType: types.KeyTypeRange},
		},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{
			{
				IndexName:  aws.String(p.index),
				KeySchema:  p.indexSchema(),
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var exists *types.ResourceInUseException
		if errors.As(err, &exists) {
			return fmt.Errorf("table %q already exists", p.table)
		}
		return fmt.Errorf("create table: %w", err)
	}

	if err := p.waitForTable(ctx); err != nil {
		return err
	}
	return p.enableExpiry(ctx)
}

// CreateDateIndex adds the date index to an existing table that was
// created without one.
func (p *Provisioner) CreateDateIndex(ctx context.Context) error {
	_, err := p.client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName:            aws.String(p.table),
		AttributeDefinitions: keyAttributes,
		GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{
			{
				Create: &types.CreateGlobalSecondaryIndexAction{
					IndexName:  aws.String(p.index),
					KeySchema:  p.indexSchema(),
					Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create date index: %w", err)
	}
	return nil
}

// Status describes the table and index state.
type Status struct {
	TableStatus string
	IndexStatus string
	IndexExists bool
	ItemCount   int64
}

// Status reports the current table and index state.
func (p *Provisioner) Status(ctx context.Context) (Status, error) {
	out, err := p.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(p.table),
	})
	if err != nil {
		return Status{}, fmt.Errorf("describe table: %w", err)
	}
	status := Status{
		TableStatus: string(out.Table.TableStatus),
		ItemCount:   aws.ToInt64(out.Table.ItemCount),
	}
	for _, gsi := range out.Table.GlobalSecondaryIndexes {
		if aws.ToString(gsi.IndexName) == p.index {
			status.IndexExists = true
			status.IndexStatus = string(gsi.IndexStatus)
		}
	}
	return status, nil
}

func (p *Provisioner) enableExpiry(ctx context.Context) error {
	_, err := p.client.UpdateTimeToLive(ctx, &dynamodb.UpdateTimeToLiveInput{
		TableName: aws.String(p.table),
		TimeToLiveSpecification: &types.TimeToLiveSpecification{
			AttributeName: aws.String("expires_at"),
			Enabled:       aws.Bool(true),
		},
	})
	if err != nil {
		return fmt.Errorf("enable expiry: %w", err)
	}
	return nil
}

func (p *Provisioner) waitForTable(ctx context.Context) error {
	waiter := dynamodb.NewTableExistsWaiter(p.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(p.table),
	}, 2*time.Minute); err != nil {
		return fmt.Errorf("wait for table: %w", err)
	}
	return nil
}
