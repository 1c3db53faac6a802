package network

import "encoding/json"

// Client-to-server events.
const (
	EvtUserOnline  = "user:online"
	EvtTableJoin   = "table:join"
	EvtTableLeave  = "table:leave"
	EvtTypingStart = "typing:start"
	EvtTypingStop  = "typing:stop"
	EvtSendMessage = "message:send"

	// Control-plane requests. These carry a request id and receive a
	// synchronous ack or error before any fan-out.
	EvtCreateTable    = "table:create"
	EvtJoinByCode     = "table:join-code"
	EvtRollDice       = "dice:roll"
	EvtStartCombat    = "combat:start"
	EvtNextTurn       = "combat:next-turn"
	EvtUpdateHP       = "combat:update-hp"
	EvtEndCombat      = "combat:end"
	EvtStartAsyncTurn = "async:start-turn"
	EvtEndAsyncTurn   = "async:end-turn"
	EvtSetTurnOrder   = "async:set-turn-order"
	EvtGetCurrentTurn = "async:current-turn"
	EvtGetTurnHistory = "async:turn-history"
)

// Server-to-client events.
const (
	EvtAck            = "ack"
	EvtError          = "error"
	EvtPresenceUpdate = "presence:update"
	EvtMemberJoined   = "table:member-joined"
	EvtMemberLeft     = "table:member-left"
	EvtMessageNew     = "message:new"
	EvtRollNew        = "roll:new"
	EvtCombatStarted  = "combat:started"
	EvtCombatTurn     = "combat:turn-changed"
	EvtCombatHP       = "combat:hp-updated"
	EvtCombatEnded    = "combat:ended"
	EvtAsyncStarted   = "async:turn-started"
	EvtAsyncChanged   = "async:turn-changed"
)

// Event is the wire envelope. Data holds the event-specific JSON payload.
type Event struct {
	Event string          `json:"event"`
	ReqID string          `json:"req_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload is the body of an EvtError reply. Code is one of the wire
// error codes so clients can tell validation failures from denials.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Wire error codes.
const (
	CodeBadRequest      = "BadRequest"
	CodeInvalidNotation = "InvalidNotation"
	CodeForbidden       = "Forbidden"
	CodeNotYourTurn     = "NotYourTurn"
	CodeAlreadyActive   = "AlreadyActive"
	CodeInvalidState    = "InvalidState"
	CodeNotFound        = "NotFound"
	CodeInvalidMembers  = "InvalidMembers"
	CodeCodeGenFailed   = "CodeGenerationFailed"
	CodeInternal        = "Internal"
)
