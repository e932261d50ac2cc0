package storage

import "os"

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
)

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode          DynamoMode
	Endpoint      string // for local mode
	Region        string
	MessagesTable string
	PresenceTable string
}

// MessageIDIndex is the GSI used to resolve a message by canonical id
const MessageIDIndex = "MessageID-index"

// LoadDynamoConfig loads DynamoDB config from environment
func LoadDynamoConfig() DynamoConfig {
	mode := DynamoMode(getEnvOr("DYNAMO_MODE", "local"))
	if mode != DynamoModeLocal && mode != DynamoModeAWS {
		mode = DynamoModeLocal
	}

	return DynamoConfig{
		Mode:          mode,
		Endpoint:      getEnvOr("DYNAMO_ENDPOINT", "http://localhost:8000"),
		Region:        getEnvOr("DYNAMO_REGION", "eu-central-1"),
		MessagesTable: getEnvOr("DYNAMO_MESSAGES_TABLE", "livechat-messages"),
		PresenceTable: getEnvOr("DYNAMO_PRESENCE_TABLE", "livechat-presence"),
	}
}

func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
