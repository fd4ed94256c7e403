package types

import "time"

type EventType string

const (
	EventAnomalyDetected  EventType = "AnomalyDetected"
	EventEndpointDown     EventType = "EndpointDown"
	EventTotalOutage      EventType = "TotalOutage"
	EventLogEvicted       EventType = "LogEvicted"
	EventRegistryReloaded EventType = "RegistryReloaded"
	EventPersistFailed    EventType = "PersistFailed"
)

type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"ts"`
	Endpoint  string         `json:"endpoint,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}
