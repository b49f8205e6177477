// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventClientConnected    EventType = "CLIENT_CONNECTED"
	EventClientDisconnected EventType = "CLIENT_DISCONNECTED"
	EventClientCanceled     EventType = "CLIENT_CANCELED"
	EventDeviceConnected    EventType = "DEVICE_CONNECTED"
	EventDeviceDisconnected EventType = "DEVICE_DISCONNECTED"
	EventDeviceError        EventType = "DEVICE_ERROR"
)

// BridgeEvent represents a lifecycle event of a bridge, its device or its clients
type BridgeEvent struct {
	ID         uuid.UUID              `json:"id"`
	EventType  EventType              `json:"event_type"`
	BridgeID   string                 `json:"bridge_id"`
	SerialPort string                 `json:"serial_port"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Severity   string                 `json:"severity"` // INFO, WARNING, ERROR
}

// NewBridgeEvent creates an event stamped with a fresh id and the current time
func NewBridgeEvent(eventType EventType, bridgeID, serialPort string, data map[string]interface{}) BridgeEvent {
	severity := "INFO"
	switch eventType {
	case EventDeviceError:
		severity = "ERROR"
	case EventClientCanceled:
		severity = "WARNING"
	}

	return BridgeEvent{
		ID:         uuid.New(),
		EventType:  eventType,
		BridgeID:   bridgeID,
		SerialPort: serialPort,
		Data:       data,
		Timestamp:  time.Now(),
		Severity:   severity,
	}
}
