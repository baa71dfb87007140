// Package wire defines the event envelope and error taxonomy shared by the
// server, the client connector, and the channel layer.
//
// Every frame in either direction is a single Event. Requests carry a
// generated RequestID; responses point back at the originating request via
// the Request field so the receiving channel can resolve its pending record.
package wire

import "encoding/json"

// Event is the wire envelope for both directions.
type Event struct {
	Method    string          `json:"method"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Request   *RequestInfo    `json:"request,omitempty"`
}

// RequestInfo rides on a response and identifies the request it answers.
// Fulfilled=false marks a non-final response: the requester keeps its
// pending record and handler for later stages.
type RequestInfo struct {
	Event       *Event `json:"event"`
	RequesterID string `json:"requesterId"`
	Fulfilled   bool   `json:"fulfilled"`
}

// NewEvent marshals data into an envelope for the given method.
func NewEvent(method string, data any) (Event, error) {
	ev := Event{Method: method}
	if data == nil {
		return ev, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	ev.Data = raw
	return ev, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// Connection-level methods. The lifecycle machine emits these locally; they
// never cross the wire.
const (
	MethodConnectionSuccess   = "connection-success"
	MethodReconnectionSuccess = "reconnection-success"
	MethodConnectionLoss      = "connection-loss"
	MethodConnectionFailure   = "connection-failure"
	MethodReconnectionFailure = "reconnection-failure"
	MethodConnectionClosed    = "connection-closed"
	MethodConnectionChange    = "connection-change"
)

// MethodActivity is reserved: listeners on it fire for every inbound or
// outbound event regardless of method filters.
const MethodActivity = "activity"

// MethodError carries an ErrorData payload, addressed to one requester.
const MethodError = "error"

// Request methods accepted by a session, and the responses they produce.
const (
	MethodRequestCurrentSession = "request-current-session"
	MethodCurrentSession        = "current-session"

	MethodRequestJoinSession = "request-join-session"
	MethodSessionJoined      = "session-joined"

	MethodRequestQuitSession = "request-quit-session"
	MethodSessionQuit        = "session-quit"

	MethodRequestStartSession = "request-start-session"
	MethodSessionStarted      = "session-started"

	MethodRequestEndSession = "request-end-session"
	MethodSessionEnded      = "session-ended"

	MethodRequestResetSession = "request-reset-session"
	MethodSessionReset        = "session-reset"

	MethodRequestOpenNode = "request-open-node"
	MethodNodeOpened      = "node-opened"

	MethodRequestExecuteAction     = "request-execute-action"
	MethodActionExecutionInitiated = "action-execution-initiated"
	MethodActionExecutionCompleted = "action-execution-completed"

	MethodRequestConfigUpdate = "request-config-update"
	MethodModifierEnacted     = "modifier-enacted"

	MethodRequestKick   = "request-kick"
	MethodMemberKicked  = "member-kicked"
	MethodRequestBan    = "request-ban"
	MethodMemberBanned  = "member-banned"

	MethodRequestAssignForce = "request-assign-force"
	MethodForceAssigned      = "force-assigned"
	MethodRequestAssignRole  = "request-assign-role"
	MethodRoleAssigned       = "role-assigned"

	MethodRequestSendOutput = "request-send-output"
	MethodOutputSent        = "output-sent"

	// MethodSessionMembers is broadcast whenever membership changes.
	MethodSessionMembers = "session-members"
)

// HeaderForceSwitch, sent at connection-establishment time, tells the server
// to disconnect an existing connection for the same identity instead of
// rejecting the new one.
const HeaderForceSwitch = "Metis-Force-Switch"

// HeaderParticipant carries the participant identity during the handshake.
// A `user` query parameter is accepted as a fallback for browser clients.
const HeaderParticipant = "Metis-Participant"
