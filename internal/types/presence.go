package types

import "time"

// PresenceStatus represents an agent's availability classification
type PresenceStatus string

const (
	StatusAvailable PresenceStatus = "available"
	StatusBusy      PresenceStatus = "busy"
	StatusAway      PresenceStatus = "away"
	StatusOffline   PresenceStatus = "offline"
)

// TransitionReason records why a presence status changed
type TransitionReason string

const (
	ReasonLogin  TransitionReason = "login"
	ReasonLogout TransitionReason = "logout"
	ReasonManual TransitionReason = "manual"
	ReasonPolicy TransitionReason = "policy"
)

// OnlineStatuses is the single canonical predicate for "online": an agent is
// online iff its status is one of available, busy, away. Every directory
// query and count must use this set.
var OnlineStatuses = []PresenceStatus{StatusAvailable, StatusBusy, StatusAway}

// IsOnline reports whether a status counts as online under the canonical predicate
func (s PresenceStatus) IsOnline() bool {
	return s == StatusAvailable || s == StatusBusy || s == StatusAway
}

// IsManuallySettable reports whether an agent may set this status itself.
// Offline is only reachable through disconnect.
func (s PresenceStatus) IsManuallySettable() bool {
	return s == StatusAvailable || s == StatusBusy || s == StatusAway
}

// PresenceState is the persisted presence record for one agent
type PresenceState struct {
	AgentID              string           `json:"agentId" dynamodbav:"AgentID"`
	Status               PresenceStatus   `json:"status" dynamodbav:"Status"`
	LastTransitionAt     time.Time        `json:"lastTransitionAt" dynamodbav:"LastTransitionAt"`
	LastTransitionReason TransitionReason `json:"lastTransitionReason" dynamodbav:"LastTransitionReason"`
}

// PresenceAction labels a presence broadcast so consumers know whether set
// membership changed (login/logout) or only a field (update)
type PresenceAction string

const (
	ActionLogin  PresenceAction = "login"
	ActionLogout PresenceAction = "logout"
	ActionUpdate PresenceAction = "update"
)
