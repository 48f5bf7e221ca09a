package protocol

// MonitorMessageType enumerates the envelope types a monitor connection may
// send. Monitors are read-only observers: every type here requests a view
// of state, never mutates it.
type MonitorMessageType string

const (
	MonitorMsgRequestSnapshot MonitorMessageType = "request_snapshot"
	MonitorMsgResync          MonitorMessageType = "resync"
)

// RequestSnapshotPayload asks the hub for a full-state snapshot of every
// worker and pending job.
type RequestSnapshotPayload struct{}

// ResyncPayload carries a monitor's last-seen event ID after a gap. The hub
// accepts a resync message but does not replay events for it.
type ResyncPayload struct {
	AfterEventID string `json:"after_event_id,omitempty"`
}

// server -> monitor push types, documented here for completeness even
// though monitors never originate them.
const (
	ServerMsgSystemStatus MonitorMessageType = "system_status"
	ServerMsgSnapshot      MonitorMessageType = "snapshot"
	ServerMsgEvent         MonitorMessageType = "event"
)
