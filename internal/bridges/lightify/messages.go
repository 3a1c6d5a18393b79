package lightify

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// MQTT message types exchanged between Gray Logic Core and the Lightify bridge.

// Protocol is the protocol identifier carried in bridge messages and topics.
const Protocol = "lightify"

// CommandMessage is sent from Core to the bridge to change a luminary.
// Topic: graylogic/command/lightify/{luminary name}
type CommandMessage struct {
	// ID correlates the command with its acknowledgments.
	// The bridge assigns one if Core leaves it empty.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, RFC3339).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the Gray Logic device identifier, echoed in the ack.
	DeviceID string `json:"device_id"`

	// Command is an action keyword or alias ("on", "off", "dim", "set_temperature", "colour").
	Command string `json:"command"`

	// Parameters holds the action values.
	// Examples:
	//   {"level": 128, "transition": 10} for dim
	//   {"red": 255, "green": 0, "blue": 0} for colour
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated ("api", "automation", "scene").
	Source string `json:"source"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was resolved and is being sent.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the gateway did not answer in time.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent from the bridge to Core to acknowledge a command.
// Topic: graylogic/ack/lightify/{luminary name}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Address is the luminary name the command was sent to.
	Address string `json:"address"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Retries int    `json:"retries,omitempty"`
}

// Error codes for command and request failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// StateMessage is sent from the bridge to Core with one light's cached state.
// Topic: graylogic/state/lightify/{address}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     map[string]any `json:"state"`
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is operating normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge is running but a link is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge disconnected unexpectedly (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the bridge's operational status.
// Topic: graylogic/health/lightify
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string            `json:"bridge"`
	Timestamp     time.Time         `json:"timestamp"`
	Status        HealthStatus      `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Connection    *ConnectionStatus `json:"connection,omitempty"`
	Statistics    *BridgeStatistics `json:"statistics,omitempty"`

	// DevicesManaged is the number of lights currently held.
	DevicesManaged int `json:"devices_managed"`

	// GroupsManaged is the number of groups currently held.
	GroupsManaged int `json:"groups_managed"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// ConnectionStatus describes the gateway session.
type ConnectionStatus struct {
	// Status is "connected" or "disconnected".
	Status string `json:"status"`

	// Address is the gateway's network address.
	Address string `json:"address"`

	// LastActivity is when a frame was last sent or received.
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// BridgeStatistics contains gateway traffic counters.
type BridgeStatistics struct {
	FramesSent     uint64 `json:"frames_sent"`
	FramesReceived uint64 `json:"frames_received"`
	Errors         uint64 `json:"errors"`
}

// RequestMessage is sent from Core to the bridge for request/response operations.
// Topic: graylogic/request/lightify/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is the requested operation.
	// Values: "refresh", "list_lights", "list_groups", "light_status"
	Action string `json:"action"`

	// Parameters contains action-specific values.
	// light_status takes {"address": "0102030405060708"}.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResponseMessage answers a RequestMessage.
// Topic: graylogic/response/lightify/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnmarshalJSON unmarshals a CommandMessage, tolerating a missing timestamp.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// NewAckMessage creates an acknowledgment for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed, address)
	if code == ErrCodeTimeout {
		ack.Status = AckTimeout
	}
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message from a light snapshot.
func NewStateMessage(snap LightSnapshot) StateMessage {
	addr := snap.Address.String()
	return StateMessage{
		DeviceID:  addr,
		Timestamp: time.Now().UTC(),
		State: map[string]any{
			"name":        snap.Name,
			"online":      snap.Online,
			"type":        snap.Type,
			"on":          snap.On,
			"level":       snap.Luminance,
			"temperature": snap.Temperature,
			"red":         snap.Red,
			"green":       snap.Green,
			"blue":        snap.Blue,
		},
		Protocol: Protocol,
		Address:  addr,
	}
}

// NewHealthMessage creates a health message from connection statistics.
func NewHealthMessage(bridgeID, version string, status HealthStatus, stats ConnectionStats, gateway string, startTime time.Time) HealthMessage {
	msg := HealthMessage{
		Bridge:         bridgeID,
		Timestamp:      time.Now().UTC(),
		Status:         status,
		Version:        version,
		UptimeSeconds:  int64(time.Since(startTime).Seconds()),
		DevicesManaged: stats.Lights,
		GroupsManaged:  stats.Groups,
		Connection:     &ConnectionStatus{Status: "disconnected", Address: gateway},
		Statistics: &BridgeStatistics{
			FramesSent:     stats.FramesTx,
			FramesReceived: stats.FramesRx,
			Errors:         stats.ErrorsTotal,
		},
	}
	if stats.Connected {
		msg.Connection.Status = "connected"
	}
	if !stats.LastActivity.IsZero() {
		last := stats.LastActivity.UTC()
		msg.Connection.LastActivity = &last
	}
	return msg
}

// NewLWTMessage creates the Last Will and Testament health message.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

// TopicPrefix is the base topic for all Gray Logic messages.
const TopicPrefix = "graylogic"

// topicEscaper escapes characters that are not allowed or not safe inside a
// single MQTT topic level.
var topicEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "+", "%2B", "#", "%23")

// EncodeTopicName escapes a luminary name for use as one topic level.
// Example: "Desk/Left" → "Desk%2FLeft"
func EncodeTopicName(name string) string {
	return topicEscaper.Replace(name)
}

// DecodeTopicName reverses EncodeTopicName.
func DecodeTopicName(level string) (string, error) {
	name, err := url.PathUnescape(level)
	if err != nil {
		return "", fmt.Errorf("decode topic level %q: %w", level, err)
	}
	return name, nil
}

// CommandTopic returns the topic for commands to a luminary.
// Example: graylogic/command/lightify/Kitchen
func CommandTopic(name string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, Protocol, EncodeTopicName(name))
}

// AckTopic returns the topic for command acknowledgments.
func AckTopic(name string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, Protocol, EncodeTopicName(name))
}

// StateTopic returns the topic for one light's state.
// Example: graylogic/state/lightify/0102030405060708
func StateTopic(addr Address) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, Protocol, addr)
}

// HealthTopic returns the topic for bridge health.
func HealthTopic() string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, Protocol)
}

// RequestTopic returns the topic for a request.
func RequestTopic(requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, Protocol, requestID)
}

// ResponseTopic returns the topic for a response.
func ResponseTopic(requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, Protocol, requestID)
}

// CommandSubscribeTopic returns the subscription pattern for all commands.
func CommandSubscribeTopic() string {
	return fmt.Sprintf("%s/command/%s/#", TopicPrefix, Protocol)
}

// RequestSubscribeTopic returns the subscription pattern for all requests.
func RequestSubscribeTopic() string {
	return fmt.Sprintf("%s/request/%s/#", TopicPrefix, Protocol)
}

// StateSubscribeTopic returns the subscription pattern for all light states.
func StateSubscribeTopic() string {
	return fmt.Sprintf("%s/state/%s/+", TopicPrefix, Protocol)
}
