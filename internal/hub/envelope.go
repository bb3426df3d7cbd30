package hub

import "encoding/json"

// Envelope is the session transport's wire shape (spec §6.1):
// { "v": 1, "type": "<frame_kind>", "id": "<opaque>", "ts": <unix_ms>, "body": { ... } }
type Envelope struct {
	V    int             `json:"v"`
	Type string          `json:"type"`
	ID   string          `json:"id"`
	TS   int64           `json:"ts"`
	Body json.RawMessage `json:"body,omitempty"`
}

// ProtocolVersion is the only accepted Envelope.V (spec §6.1: "v other than
// 1 => connection closed with reason UNSUPPORTED_PROTOCOL").
const ProtocolVersion = 1

// Inbound frame kinds (spec §4.4).
const (
	FrameSubmitTask    = "submit_task"
	FrameSubmitCollab  = "submit_collab"
	FrameCancel        = "cancel"
	FrameSubscribe     = "subscribe"
	FrameUnsubscribe   = "unsubscribe"
	FrameActivateAgent = "activate_agent"
	FrameHeartbeat     = "heartbeat"
)

// Outbound frame kinds (spec §4.4).
const (
	FrameAck                 = "ack"
	FrameTaskCompleted       = "task_completed"
	FrameTaskFailed          = "task_failed"
	FrameParticipantProgress = "participant_progress"
	FrameParticipantComplete = "participant_completed"
	FrameCollabFinished      = "collab_finished"
	FrameResolutionChosen    = "resolution_chosen"
	FrameAwaitingHuman       = "awaiting_human"
	FrameAgentActivated      = "agent_activated"
	FrameError               = "error"
)

// terminal outbound kinds are never dropped under back-pressure (spec
// §4.4: "Never drop terminal events (*_completed, *_failed, *_finished, error)").
func isTerminal(kind string) bool {
	switch kind {
	case FrameTaskCompleted, FrameTaskFailed, FrameParticipantComplete, FrameCollabFinished, FrameError:
		return true
	}
	return false
}

func encode(env Envelope) ([]byte, error) { return json.Marshal(env) }

func decode(data []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(data, &env)
	return env, err
}
