package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Action names used on the wire.
const (
	ActionGetLatest       = "get_latest"
	ActionSendMessage     = "send_message"
	ActionHealthCheck     = "health_check"
	ActionEmergencyBackup = "emergency_backup"
	ActionEmergencyStatus = "emergency_status"
	ActionHeartbeat       = "heartbeat"

	ActionLatest = "latest"
	ActionSent   = "sent"

	ActionConnectionEstablished = "connection_established"
	ActionHeartbeatAck          = "heartbeat_ack"
	ActionHealthReport          = "health_report"
	ActionBackupComplete        = "backup_complete"
	ActionEmergencyRestore      = "emergency_restore"
	ActionError                 = "error"
)

// ErrMalformed marks an inbound frame that is not a valid envelope.
var ErrMalformed = errors.New("malformed envelope")

// Command is one decoded inbound envelope. The set of implementations is
// closed: every recognized action has its own type, anything else decodes
// to Unknown.
type Command interface {
	Action() string
}

type GetLatest struct {
	Who string `json:"who"`
}

type SendMessage struct {
	Who  string `json:"who"`
	Text string `json:"text"`
}

type HealthCheck struct{}

type EmergencyBackup struct{}

// StatusInfo is the per-endpoint entry of an emergency_status report.
type StatusInfo struct {
	Status string `json:"status"`
}

// EmergencyStatus is sent by the automation client when it (re)connects
// or notices endpoint pages disappearing. TabsFound values are kept raw:
// the client sends a boolean or a tab object / null.
type EmergencyStatus struct {
	AIStatus  map[string]StatusInfo      `json:"ai_status"`
	TabsFound map[string]json.RawMessage `json:"tabs_found"`
}

type Heartbeat struct{}

// Latest is the client's reply to a scrape request.
type Latest struct {
	Text  *string `json:"text"`
	Who   string  `json:"who"`
	Error string  `json:"error,omitempty"`
}

// Sent is the client's reply to an injection request.
type Sent struct {
	OK    bool   `json:"ok"`
	Who   string `json:"who"`
	Error string `json:"error,omitempty"`
}

// Unknown is any envelope whose action is not recognized.
type Unknown struct {
	Name string
}

func (GetLatest) Action() string       { return ActionGetLatest }
func (SendMessage) Action() string     { return ActionSendMessage }
func (HealthCheck) Action() string     { return ActionHealthCheck }
func (EmergencyBackup) Action() string { return ActionEmergencyBackup }
func (EmergencyStatus) Action() string { return ActionEmergencyStatus }
func (Heartbeat) Action() string       { return ActionHeartbeat }
func (Latest) Action() string          { return ActionLatest }
func (Sent) Action() string            { return ActionSent }
func (u Unknown) Action() string       { return u.Name }

// IsReply reports whether c answers a request the server issued.
func IsReply(c Command) bool {
	switch c.(type) {
	case Latest, Sent:
		return true
	default:
		return false
	}
}

// Decode parses one inbound frame.
func Decode(raw []byte) (Command, error) {
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch head.Action {
	case ActionGetLatest:
		return decodeInto[GetLatest](raw)
	case ActionSendMessage:
		return decodeInto[SendMessage](raw)
	case ActionHealthCheck:
		return HealthCheck{}, nil
	case ActionEmergencyBackup:
		return EmergencyBackup{}, nil
	case ActionEmergencyStatus:
		return decodeInto[EmergencyStatus](raw)
	case ActionHeartbeat:
		return Heartbeat{}, nil
	case ActionLatest:
		return decodeInto[Latest](raw)
	case ActionSent:
		return decodeInto[Sent](raw)
	default:
		return Unknown{Name: head.Action}, nil
	}
}

func decodeInto[T Command](raw []byte) (Command, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, v.Action(), err)
	}
	return v, nil
}

// Truthy reports whether a raw JSON value counts as present: false,
// null, 0, "" and empty containers do not.
func Truthy(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "false", "null", "0", `""`, "{}", "[]":
		return false
	default:
		return true
	}
}
