package models

import "time"

// DistributorKind is the closed set of transport kinds a Distributor can
// bind to.
type DistributorKind string

const (
	DistributorUDP       DistributorKind = "udp"
	DistributorWebSocket DistributorKind = "websocket"
	DistributorMQTT      DistributorKind = "mqtt"
	DistributorHTTP      DistributorKind = "http"
)

// DistributorState is the lifecycle of one distributor instance.
type DistributorState string

const (
	DistributorIdle     DistributorState = "idle"
	DistributorStarting DistributorState = "starting"
	DistributorActive   DistributorState = "active"
	DistributorDegraded DistributorState = "degraded"
	DistributorStopped  DistributorState = "stopped"
)

// EventKind is the closed enumeration of distribution routing keys.
// REDESIGN FLAG (spec.md §9): the routing table key space is a closed
// enumeration; unknown event kinds are a ValidationError, not a silent
// drop.
type EventKind string

const (
	EventGaze             EventKind = "gaze"
	EventFace             EventKind = "face"
	EventTelemetry        EventKind = "telemetry"
	EventSyncEvent         EventKind = "event"
	EventDistributorDegraded EventKind = "distributor_degraded"
	EventConnectionChange    EventKind = "connection_change"
	EventSessionLifecycle    EventKind = "session_lifecycle"
)

// Valid reports whether k is a member of the closed routing-key enumeration.
func (k EventKind) Valid() bool {
	switch k {
	case EventGaze, EventFace, EventTelemetry, EventSyncEvent,
		EventDistributorDegraded, EventConnectionChange, EventSessionLifecycle:
		return true
	default:
		return false
	}
}

// EventKindFromStream maps a StreamKind onto its default routing key.
func EventKindFromStream(k StreamKind) EventKind { return EventKind(k) }

// DistributorFilter optionally narrows what a distributor forwards.
type DistributorFilter struct {
	SampleRateCapHz    float64  `json:"sample_rate_cap_hz,omitempty"`
	ConfidenceMin      *float64 `json:"confidence_min,omitempty"`
	FieldProjection    []string `json:"field_projection,omitempty"`
}

// DistributorStats is the running counters exposed by every distributor.
type DistributorStats struct {
	Sent     uint64    `json:"sent"`
	Bytes    uint64    `json:"bytes"`
	Errors   uint64    `json:"errors"`
	Dropped  uint64    `json:"dropped"`
	LastSend time.Time `json:"last_send"`
}

// DistributorDestination is the kind-specific sink address. Only the
// field(s) relevant to Kind are populated; callers type-switch on Kind.
type DistributorDestination struct {
	Host  string `json:"host,omitempty"`
	Port  int    `json:"port,omitempty"`
	URL   string `json:"url,omitempty"` // http base url / mqtt broker url
	Topic string `json:"topic,omitempty"`
	// TopicMap allows per-event-kind MQTT topic overrides; falls back to
	// "Topic/<kind>" (or "<kind>" when Topic is empty) when a kind has no
	// explicit entry.
	TopicMap map[EventKind]string `json:"topic_map,omitempty"`
	Path     string               `json:"path,omitempty"` // http kind-specific path suffix
}

// DistributorConfig is the declarative shape used by create_session /
// reconfigure_distributor.
type DistributorConfig struct {
	Name        string                  `json:"name"`
	Kind        DistributorKind         `json:"kind"`
	Destination DistributorDestination  `json:"destination"`
	Filter      *DistributorFilter      `json:"filter,omitempty"`
	QoS         int                     `json:"qos,omitempty"`     // mqtt only: 0,1,2
	Retain      bool                    `json:"retain,omitempty"`  // mqtt only
	TailDrop    bool                    `json:"tail_drop,omitempty"`
	QueueSize   int                     `json:"queue_size,omitempty"`
}

// SessionConfig declares a named bundle of distributors plus routing.
type SessionConfig struct {
	ID            string                       `json:"id"`
	Distributors  []DistributorConfig          `json:"distributors"`
	EventRouting  map[EventKind][]string       `json:"event_routing"`
}

// SessionStatus is the aggregated per-distributor view returned by
// get_session_status.
type SessionStatus struct {
	ID           string                      `json:"id"`
	State        string                      `json:"state"`
	Distributors map[string]DistributorStats `json:"distributors"`
	CreatedAt    time.Time                   `json:"created_at"`
}

// Client is a registered consumer identity that may own streams across one
// or more sessions (Open Question in spec.md §9, resolved distinctly from
// Session in SPEC_FULL.md).
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StreamIDs []string  `json:"stream_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// RecordingConfig configures POST /distribution/streams/:id/record.
type RecordingConfig struct {
	Format   string `json:"format"` // only "jsonl" is implemented; see SPEC_FULL.md
	FilePath string `json:"file_path"`
}

// RecordedEvent is one line of a JSON-lines recording file.
type RecordedEvent struct {
	Event     EventKind `json:"event"`
	Timestamp int64     `json:"timestamp"`
	Source    string    `json:"source"`
	Payload   any       `json:"payload"`
}
