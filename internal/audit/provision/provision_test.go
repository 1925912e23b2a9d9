package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	createIn  *dynamodb.CreateTableInput
	createErr error
	updateIn  *dynamodb.UpdateTableInput
	ttlIn     *dynamodb.UpdateTimeToLiveInput
	descOut   *dynamodb.DescribeTableOutput
	descErr   error
}

func (f *fakeAPI) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.createIn = in
	return &dynamodb.CreateTableOutput{}, f.createErr
}

func (f *fakeAPI) UpdateTable(_ context.Context, in *dynamodb.UpdateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	f.updateIn = in
	return &dynamodb.UpdateTableOutput{}, nil
}

func (f *fakeAPI) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.descErr != nil {
		return nil, f.descErr
	}
	if f.descOut == nil {
		return &dynamodb.DescribeTableOutput{
			Table: &types.TableDescription{TableStatus: types.TableStatusActive},
		}, nil
	}
	return f.descOut, nil
}

func (f *fakeAPI) UpdateTimeToLive(_ context.Context, in *dynamodb.UpdateTimeToLiveInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateTimeToLiveOutput, error) {
	f.ttlIn = in
	return &dynamodb.UpdateTimeToLiveOutput{}, nil
}

func TestCreateTable(t *testing.T) {
	api := &fakeAPI{}
	p := New(api, "audit-logs", "created-at-index")

	require.NoError(t, p.CreateTable(context.Background()))

	in := api.createIn
	require.NotNil(t, in)
	assert.Equal(t, "audit-logs", aws.ToString(in.TableName))
	assert.Equal(t, types.BillingModePayPerRequest, in.BillingMode)

	require.Len(t, in.KeySchema, 2)
	assert.Equal(t, "PK", aws.ToString(in.KeySchema[0].AttributeName))
	assert.Equal(t, "SK", aws.ToString(in.KeySchema[1].AttributeName))

	require.Len(t, in.GlobalSecondaryIndexes, 1)
	gsi := in.GlobalSecondaryIndexes[0]
	assert.Equal(t, "created-at-index", aws.ToString(gsi.IndexName))
	assert.Equal(t, "audit_type", aws.ToString(gsi.KeySchema[0].AttributeName))
	assert.Equal(t, "created_at", aws.ToString(gsi.KeySchema[1].AttributeName))
	assert.Equal(t, types.ProjectionTypeAll, gsi.Projection.ProjectionType)

	require.NotNil(t, api.ttlIn, "expiry must be enabled after creation")
	assert.Equal(t, "expires_at", aws.ToString(api.ttlIn.TimeToLiveSpecification.AttributeName))
}

func TestCreateTable_AlreadyExists(t *testing.T) {
	api := &fakeAPI{createErr: &types.ResourceInUseException{}}
	p := New(api, "audit-logs", "created-at-index")

	err := p.CreateTable(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
	assert.Nil(t, api.ttlIn)
}

func TestCreateDateIndex(t *testing.T) {
	api := &fakeAPI{}
	p := New(api, "audit-logs", "created-at-index")

	require.NoError(t, p.CreateDateIndex(context.Background()))

	require.NotNil(t, api.updateIn)
	require.Len(t, api.updateIn.GlobalSecondaryIndexUpdates, 1)
	create := api.updateIn.GlobalSecondaryIndexUpdates[0].Create
	require.NotNil(t, create)
	assert.Equal(t, "created-at-index", aws.ToString(create.IndexName))
}

func TestStatus(t *testing.T) {
	api := &fakeAPI{descOut: &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableStatus: types.TableStatusActive,
			ItemCount:   aws.Int64(12),
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndexDescription{
				{IndexName: aws.String("created-at-index"), IndexStatus: types.IndexStatusActive},
			},
		},
	}}
	p := New(api, "audit-logs", "created-at-index")

	status, err := p.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ACTIVE", status.TableStatus)
	assert.True(t, status.IndexExists)
	assert.Equal(t, "ACTIVE", status.IndexStatus)
	assert.Equal(t, int64(12), status.ItemCount)
}

func TestStatus_Error(t *testing.T) {
	api := &fakeAPI{descErr: errors.New("no table")}
	p := New(api, "audit-logs", "created-at-index")

	_, err := p.Status(context.Background())
	require.Error(t, err)
}
