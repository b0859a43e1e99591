// Package dynamo implements catalog.Catalog on top of DynamoDB.
//
// Backing-table metadata lives as one item per table in a DynamoDB table.
// This backend only manages metadata; pair it with an object-store layout
// where the data location is recorded in the item.
//
// Table schema:
//   - Partition key: table_name (string) - the fully-qualified table name
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name cte-cache-catalog \
//	  --attribute-definitions AttributeName=table_name,AttributeType=S \
//	  --key-schema AttributeName=table_name,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/ctecache/catalog"
)

// Client is the interface for DynamoDB operations.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Catalog implements catalog.Catalog backed by a DynamoDB metadata table.
type Catalog struct {
	client    Client
	tableName string
}

// New creates a new DynamoDB catalog. tableName is the DynamoDB table
// holding the metadata items.
func New(client Client, tableName string) *Catalog {
	return &Catalog{
		client:    client,
		tableName: tableName,
	}
}

// CreateTable registers a backing table with its data location. Producers
// call this before writing the materialization.
func (c *Catalog) CreateTable(ctx context.Context, name, location string) error {
	_, err := c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"table_name": &types.AttributeValueMemberS{Value: name},
			"location":   &types.AttributeValueMemberS{Value: location},
		},
	})
	return err
}

// TableHandle resolves a table by name.
func (c *Catalog) TableHandle(ctx context.Context, _ catalog.Session, name string) (catalog.TableHandle, error) {
	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"table_name": &types.AttributeValueMemberS{Value: name},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, catalog.ErrNotFound
	}

	h := &tableHandle{name: name}
	if loc, ok := out.Item["location"].(*types.AttributeValueMemberS); ok {
		h.location = loc.Value
	}
	return h, nil
}

// DropTable deletes the metadata item. Deleting a missing item is not an
// error.
func (c *Catalog) DropTable(ctx context.Context, _ catalog.Session, th catalog.TableHandle) error {
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"table_name": &types.AttributeValueMemberS{Value: th.Name()},
		},
	})
	return err
}

type tableHandle struct {
	name     string
	location string
}

func (h *tableHandle) Name() string { return h.name }

// Location returns the data location recorded for the table.
func (h *tableHandle) Location() string { return h.location }
