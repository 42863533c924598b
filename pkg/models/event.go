package models

import "encoding/json"

// EventType discriminates inbound stream messages.
type EventType string

const (
	EventInit           EventType = "init"
	EventRunStarted     EventType = "run_started"
	EventNodeScheduled  EventType = "node_scheduled"
	EventNodeStarted    EventType = "node_started"
	EventNodeCompleted  EventType = "node_completed"
	EventNodeFailed     EventType = "node_failed"
	EventNodeRetrying   EventType = "node_retrying"
	EventRunCompleted   EventType = "run_completed"
	EventRunFailed      EventType = "run_failed"
	EventRunAborted     EventType = "run_aborted"
	EventMessageLogged  EventType = "message_logged"
	EventMessageRelayed EventType = "message_relayed"
)

// Known reports whether the event type is part of the consumed taxonomy.
// Unknown types are ignored for forward compatibility.
func (t EventType) Known() bool {
	switch t {
	case EventInit, EventRunStarted, EventNodeScheduled, EventNodeStarted,
		EventNodeCompleted, EventNodeFailed, EventNodeRetrying,
		EventRunCompleted, EventRunFailed, EventRunAborted,
		EventMessageLogged, EventMessageRelayed:
		return true
	}
	return false
}

// RelayMessage is the payload of a message_relayed event: one agent-to-agent
// transmission observed by the engine.
type RelayMessage struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
}

// Event is one inbound stream message. Only the fields relevant to the
// event's Type are populated; the rest stay zero.
type Event struct {
	Type       EventType `json:"type"`
	RunID      string    `json:"runId,omitempty"`
	MissionID  string    `json:"missionId,omitempty"`
	NodeID     string    `json:"nodeId,omitempty"`
	ActiveRuns []string  `json:"activeRuns,omitempty"`
	Output     string    `json:"output,omitempty"`
	Files      []string  `json:"files,omitempty"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retryCount,omitempty"`
	Level      string    `json:"level,omitempty"`

	// Message is plain text for message_logged and a RelayMessage object
	// for message_relayed; both are decoded in UnmarshalJSON.
	Message string        `json:"-"`
	Relay   *RelayMessage `json:"-"`
}

// eventWire mirrors Event with the polymorphic message field left raw.
type eventWire struct {
	Type       EventType       `json:"type"`
	RunID      string          `json:"runId,omitempty"`
	MissionID  string          `json:"missionId,omitempty"`
	NodeID     string          `json:"nodeId,omitempty"`
	ActiveRuns []string        `json:"activeRuns,omitempty"`
	Output     string          `json:"output,omitempty"`
	Files      []string        `json:"files,omitempty"`
	Error      string          `json:"error,omitempty"`
	RetryCount int             `json:"retryCount,omitempty"`
	Level      string          `json:"level,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
}

// UnmarshalJSON decodes a wire frame, resolving the message field as either
// plain text (message_logged) or a relay object (message_relayed).
func (e *Event) UnmarshalJSON(data []byte) error {
	var w eventWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Event{
		Type:       w.Type,
		RunID:      w.RunID,
		MissionID:  w.MissionID,
		NodeID:     w.NodeID,
		ActiveRuns: w.ActiveRuns,
		Output:     w.Output,
		Files:      w.Files,
		Error:      w.Error,
		RetryCount: w.RetryCount,
		Level:      w.Level,
	}
	if len(w.Message) == 0 {
		return nil
	}
	var text string
	if err := json.Unmarshal(w.Message, &text); err == nil {
		e.Message = text
		return nil
	}
	var relay RelayMessage
	if err := json.Unmarshal(w.Message, &relay); err == nil {
		e.Relay = &relay
	}
	// Any other shape is tolerated and left empty.
	return nil
}

// MarshalJSON re-encodes the event in wire shape. Used by the simulator and
// by tests that round-trip frames.
func (e Event) MarshalJSON() ([]byte, error) {
	w := eventWire{
		Type:       e.Type,
		RunID:      e.RunID,
		MissionID:  e.MissionID,
		NodeID:     e.NodeID,
		ActiveRuns: e.ActiveRuns,
		Output:     e.Output,
		Files:      e.Files,
		Error:      e.Error,
		RetryCount: e.RetryCount,
		Level:      e.Level,
	}
	if e.Relay != nil {
		raw, err := json.Marshal(e.Relay)
		if err != nil {
			return nil, err
		}
		w.Message = raw
	} else if e.Message != "" {
		raw, err := json.Marshal(e.Message)
		if err != nil {
			return nil, err
		}
		w.Message = raw
	}
	return json.Marshal(w)
}

// Command is an outbound frame sent to the engine over the same socket.
type Command struct {
	Type  string `json:"type"`
	RunID string `json:"runId"`
}

// AbortCommand builds the abort frame for a run.
func AbortCommand(runID string) Command {
	return Command{Type: "abort_run", RunID: runID}
}
