package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

// CreateTablesIfNotExist creates DynamoDB tables for local development
func CreateTablesIfNotExist(ctx context.Context, client *dynamodb.Client, config DynamoConfig, logger zerolog.Logger) error {
	// Messages: partitioned by conversation, message id as range key, with a
	// GSI so edit/delete can resolve a message by canonical id alone.
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(config.MessagesTable),
	})
	if err != nil {
		_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(config.MessagesTable),
			KeySchema: []dbtypes.KeySchemaElement{
				{AttributeName: aws.String("ConversationKey"), KeyType: dbtypes.KeyTypeHash},
				{AttributeName: aws.String("MessageID"), KeyType: dbtypes.KeyTypeRange},
			},
			AttributeDefinitions: []dbtypes.AttributeDefinition{
				{AttributeName: aws.String("ConversationKey"), AttributeType: dbtypes.ScalarAttributeTypeS},
				{AttributeName: aws.String("MessageID"), AttributeType: dbtypes.ScalarAttributeTypeS},
			},
			GlobalSecondaryIndexes: []dbtypes.GlobalSecondaryIndex{
				{
					IndexName: aws.String(MessageIDIndex),
					KeySchema: []dbtypes.KeySchemaElement{
						{AttributeName: aws.String("MessageID"), KeyType: dbtypes.KeyTypeHash},
					},
					Projection: &dbtypes.Projection{ProjectionType: dbtypes.ProjectionTypeAll},
				},
			},
			BillingMode: dbtypes.BillingModePayPerRequest,
		})
		if err != nil {
			return fmt.Errorf("failed to create table %s: %w", config.MessagesTable, err)
		}
		logger.Info().Str("table", config.MessagesTable).Msg("table created")
	} else {
		logger.Info().Str("table", config.MessagesTable).Msg("table already exists")
	}

	_, err = client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(config.PresenceTable),
	})
	if err != nil {
		_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(config.PresenceTable),
			KeySchema: []dbtypes.KeySchemaElement{
				{AttributeName: aws.String("AgentID"), KeyType: dbtypes.KeyTypeHash},
			},
			AttributeDefinitions: []dbtypes.AttributeDefinition{
				{AttributeName: aws.String("AgentID"), AttributeType: dbtypes.ScalarAttributeTypeS},
			},
			BillingMode: dbtypes.BillingModePayPerRequest,
		})
		if err != nil {
			return fmt.Errorf("failed to create table %s: %w", config.PresenceTable, err)
		}
		logger.Info().Str("table", config.PresenceTable).Msg("table created")
	} else {
		logger.Info().Str("table", config.PresenceTable).Msg("table already exists")
	}

	return nil
}
