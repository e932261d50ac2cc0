package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tessfa-ye/callcenter-livechat/internal/types"
)

// DynamoDBStore implements Store using AWS DynamoDB
type DynamoDBStore struct {
	client *dynamodb.Client
	config DynamoConfig
	logger zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDB store
func NewDynamoDBStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	store := &DynamoDBStore{
		client: client,
		config: cfg,
		logger: logger,
	}

	// Create tables in local mode
	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB store initialized")

	return store, nil
}

func (s *DynamoDBStore) CreateMessage(ctx context.Context, msg types.Message) (types.Message, error) {
	msg.MessageID = uuid.New().String()
	msg.ProvisionalID = ""
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	item, err := attributevalue.MarshalMap(msg)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to marshal message: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.MessagesTable),
		Item:      item,
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to save message: %w", err)
	}
	return msg, nil
}

func (s *DynamoDBStore) GetMessage(ctx context.Context, messageID string) (types.Message, error) {
	keyCond := expression.Key("MessageID").Equal(expression.Value(messageID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.Query(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.MessagesTable),
		IndexName:                 aws.String(MessageIDIndex),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		Limit:                     aws.Int32(1),
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to query message: %w", err)
	}
	if len(result.Items) == 0 {
		return types.Message{}, types.ErrNotFound
	}

	var msg types.Message
	if err := attributevalue.UnmarshalMap(result.Items[0], &msg); err != nil {
		return types.Message{}, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return msg, nil
}

func (s *DynamoDBStore) FindMessagesByConversation(ctx context.Context, key types.ConversationKey) ([]types.Message, error) {
	keyCond := expression.Key("ConversationKey").Equal(expression.Value(string(key)))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	var messages []types.Message
	var lastKey map[string]dbtypes.AttributeValue
	for {
		input := &dynamodb.QueryInput{
			TableName:                 aws.String(s.config.MessagesTable),
			KeyConditionExpression:    expr.KeyCondition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query conversation: %w", err)
		}

		var page []types.Message
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
		}
		messages = append(messages, page...)

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}

	// Range key is the message id, so order by creation time here
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (s *DynamoDBStore) ListConversations(ctx context.Context, agentID string) ([]types.ConversationSummary, error) {
	filter := expression.Name("From").Equal(expression.Value(agentID)).
		Or(expression.Name("To").Equal(expression.Value(agentID)))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	latest := make(map[types.ConversationKey]types.Message)
	unread := make(map[types.ConversationKey]int)

	var lastKey map[string]dbtypes.AttributeValue
	for {
		input := &dynamodb.ScanInput{
			TableName:                 aws.String(s.config.MessagesTable),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversations: %w", err)
		}

		var page []types.Message
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal messages: %w", err)
		}
		for _, msg := range page {
			if cur, ok := latest[msg.ConversationKey]; !ok || msg.CreatedAt.After(cur.CreatedAt) {
				latest[msg.ConversationKey] = msg
			}
			if msg.To == agentID && msg.ReadAt == nil {
				unread[msg.ConversationKey]++
			}
		}

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}

	out := make([]types.ConversationSummary, 0, len(latest))
	for key, msg := range latest {
		a, b := key.Partners()
		partner := a
		if partner == agentID {
			partner = b
		}
		out = append(out, types.ConversationSummary{
			PartnerID:     partner,
			LastMessage:   msg.Body,
			LastMessageAt: msg.CreatedAt,
			UnreadCount:   unread[key],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out, nil
}

func (s *DynamoDBStore) MarkMessagesRead(ctx context.Context, from, to string, at time.Time) (int, error) {
	key := types.NewConversationKey(from, to)
	messages, err := s.FindMessagesByConversation(ctx, key)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, msg := range messages {
		if msg.From != from || msg.To != to || msg.ReadAt != nil {
			continue
		}

		update := expression.Set(expression.Name("ReadAt"), expression.Value(at))
		expr, err := expression.NewBuilder().WithUpdate(update).Build()
		if err != nil {
			return updated, fmt.Errorf("failed to build expression: %w", err)
		}

		_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName: aws.String(s.config.MessagesTable),
			Key: map[string]dbtypes.AttributeValue{
				"ConversationKey": &dbtypes.AttributeValueMemberS{Value: string(msg.ConversationKey)},
				"MessageID":       &dbtypes.AttributeValueMemberS{Value: msg.MessageID},
			},
			UpdateExpression:          expr.Update(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		})
		if err != nil {
			return updated, fmt.Errorf("failed to mark message read: %w", err)
		}
		updated++
	}
	return updated, nil
}

func (s *DynamoDBStore) EditMessage(ctx context.Context, messageID, newBody string) (types.Message, error) {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return types.Message{}, err
	}

	update := expression.Set(expression.Name("Body"), expression.Value(newBody)).
		Set(expression.Name("Edited"), expression.Value(true))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.config.MessagesTable),
		Key: map[string]dbtypes.AttributeValue{
			"ConversationKey": &dbtypes.AttributeValueMemberS{Value: string(msg.ConversationKey)},
			"MessageID":       &dbtypes.AttributeValueMemberS{Value: msg.MessageID},
		},
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to edit message: %w", err)
	}

	msg.Body = newBody
	msg.Edited = true
	return msg, nil
}

func (s *DynamoDBStore) DeleteMessage(ctx context.Context, messageID string) error {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}

	_, err = s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.config.MessagesTable),
		Key: map[string]dbtypes.AttributeValue{
			"ConversationKey": &dbtypes.AttributeValueMemberS{Value: string(msg.ConversationKey)},
			"MessageID":       &dbtypes.AttributeValueMemberS{Value: msg.MessageID},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) UpsertPresence(ctx context.Context, state types.PresenceState) error {
	item, err := attributevalue.MarshalMap(state)
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.PresenceTable),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("failed to save presence: %w", err)
	}
	return nil
}

func (s *DynamoDBStore) ReadPresence(ctx context.Context, agentID string) (types.PresenceState, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.PresenceTable),
		Key: map[string]dbtypes.AttributeValue{
			"AgentID": &dbtypes.AttributeValueMemberS{Value: agentID},
		},
	})
	if err != nil {
		return types.PresenceState{}, fmt.Errorf("failed to read presence: %w", err)
	}
	if result.Item == nil {
		return types.PresenceState{}, types.ErrNotFound
	}

	var state types.PresenceState
	if err := attributevalue.UnmarshalMap(result.Item, &state); err != nil {
		return types.PresenceState{}, fmt.Errorf("failed to unmarshal presence: %w", err)
	}
	return state, nil
}

func (s *DynamoDBStore) ListAgentsByPresence(ctx context.Context, statuses []types.PresenceStatus) ([]types.PresenceState, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	values := make([]expression.OperandBuilder, 0, len(statuses))
	for _, st := range statuses {
		values = append(values, expression.Value(string(st)))
	}
	var filter expression.ConditionBuilder
	if len(values) == 1 {
		filter = expression.Name("Status").Equal(values[0])
	} else {
		filter = expression.Name("Status").In(values[0], values[1:]...)
	}

	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	var out []types.PresenceState
	var lastKey map[string]dbtypes.AttributeValue
	for {
		input := &dynamodb.ScanInput{
			TableName:                 aws.String(s.config.PresenceTable),
			FilterExpression:          expr.Filter(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
		}
		if lastKey != nil {
			input.ExclusiveStartKey = lastKey
		}

		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to scan presence: %w", err)
		}

		var page []types.PresenceState
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, fmt.Errorf("failed to unmarshal presence: %w", err)
		}
		out = append(out, page...)

		lastKey = result.LastEvaluatedKey
		if lastKey == nil {
			break
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].AgentID < out[j].AgentID
	})
	return out, nil
}

func (s *DynamoDBStore) Close() error { return nil }
