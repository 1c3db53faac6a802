package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/wfunc/rpgserver/asyncturn"
	"github.com/wfunc/rpgserver/combat"
	"github.com/wfunc/rpgserver/dice"
	"github.com/wfunc/rpgserver/logger"
	"github.com/wfunc/rpgserver/models"
	"github.com/wfunc/rpgserver/network"
	"github.com/wfunc/rpgserver/persistence"
	"github.com/wfunc/rpgserver/services"
	"github.com/wfunc/rpgserver/session"
)

var errNotBound = errors.New("complete the user:online handshake first")

type onlinePayload struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type tablePayload struct {
	TableID string `json:"table_id"`
}

type memberPayload struct {
	TableID  string `json:"table_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type createTablePayload struct {
	Name      string           `json:"name"`
	PlayStyle models.PlayStyle `json:"play_style"`
}

type joinByCodePayload struct {
	InviteCode string `json:"invite_code"`
}

type messagePayload struct {
	TableID string `json:"table_id"`
	Content string `json:"content"`
}

type rollPayload struct {
	TableID      string `json:"table_id"`
	Notation     string `json:"notation"`
	Reason       string `json:"reason,omitempty"`
	Advantage    bool   `json:"advantage,omitempty"`
	Disadvantage bool   `json:"disadvantage,omitempty"`
}

type startCombatPayload struct {
	TableID    string         `json:"table_id"`
	Name       string         `json:"name"`
	Combatants []combat.Setup `json:"combatants"`
}

type encounterPayload struct {
	EncounterID string `json:"encounter_id"`
}

type updateHPPayload struct {
	EncounterID string `json:"encounter_id"`
	CombatantID string `json:"combatant_id"`
	HP          int    `json:"hp"`
}

type endTurnPayload struct {
	TableID string `json:"table_id"`
	TurnID  string `json:"turn_id"`
}

type turnOrderPayload struct {
	TableID string   `json:"table_id"`
	Order   []string `json:"order"`
}

// dispatch routes one client event. Request events reply with an ack (or
// error) correlated by the client's req_id; fan-out to the room happens
// inside the domain managers after the store write confirms.
func (s *SessionServer) dispatch(sess *session.Session, evt *network.Event) {
	ctx := context.Background()

	var err error
	switch evt.Event {
	case network.EvtUserOnline:
		err = s.handleUserOnline(ctx, sess, evt)
	case network.EvtTableJoin:
		err = s.handleTableJoin(ctx, sess, evt)
	case network.EvtTableLeave:
		err = s.handleTableLeave(sess, evt)
	case network.EvtTypingStart, network.EvtTypingStop:
		err = s.handleTyping(sess, evt)
	case network.EvtCreateTable:
		err = s.handleCreateTable(ctx, sess, evt)
	case network.EvtJoinByCode:
		err = s.handleJoinByCode(ctx, sess, evt)
	case network.EvtSendMessage:
		err = s.handleSendMessage(ctx, sess, evt)
	case network.EvtRollDice:
		err = s.handleRollDice(ctx, sess, evt)
	case network.EvtStartCombat:
		err = s.handleStartCombat(ctx, sess, evt)
	case network.EvtNextTurn:
		err = s.handleNextTurn(ctx, sess, evt)
	case network.EvtUpdateHP:
		err = s.handleUpdateHP(ctx, sess, evt)
	case network.EvtEndCombat:
		err = s.handleEndCombat(ctx, sess, evt)
	case network.EvtStartAsyncTurn:
		err = s.handleStartAsyncTurn(ctx, sess, evt)
	case network.EvtEndAsyncTurn:
		err = s.handleEndAsyncTurn(ctx, sess, evt)
	case network.EvtSetTurnOrder:
		err = s.handleSetTurnOrder(ctx, sess, evt)
	case network.EvtGetCurrentTurn:
		err = s.handleGetCurrentTurn(ctx, sess, evt)
	case network.EvtGetTurnHistory:
		err = s.handleGetTurnHistory(ctx, sess, evt)
	default:
		logger.Log.Debugf("unknown event %q from session %s", evt.Event, sess.ID)
		err = errors.New("unknown event: " + evt.Event)
	}

	if err != nil {
		s.sendError(sess, evt.ReqID, err)
	}
}

func (s *SessionServer) handleUserOnline(ctx context.Context, sess *session.Session, evt *network.Event) error {
	var p onlinePayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}
	if p.UserID == "" {
		return errors.New("user_id is required")
	}
	if err := s.tracker.OnUserOnline(ctx, sess, p.UserID, p.Username); err != nil {
		return err
	}
	return s.ack(sess, evt.ReqID, map[string]interface{}{"user_id": p.UserID})
}

func (s *SessionServer) handleTableJoin(ctx context.Context, sess *session.Session, evt *network.Event) error {
	userID, username, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p tablePayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	table, err := s.tables.GetTable(ctx, p.TableID)
	if err != nil {
		return err
	}
	if !table.HasMember(userID) {
		return services.ErrForbidden
	}

	// Join records the membership on the session as well.
	s.roomManager.Join(sess, p.TableID)
	s.metrics.SetActiveTables(s.roomManager.Count())

	s.broadcaster.BroadcastToRoom(p.TableID, network.EvtMemberJoined, memberPayload{
		TableID:  p.TableID,
		UserID:   userID,
		Username: username,
	}, sess.ID)

	return s.ack(sess, evt.ReqID, map[string]interface{}{"table": table})
}

func (s *SessionServer) handleTableLeave(sess *session.Session, evt *network.Event) error {
	userID, username, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p tablePayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	s.roomManager.Leave(sess.ID, p.TableID)
	sess.LeaveTable(p.TableID)
	s.metrics.SetActiveTables(s.roomManager.Count())

	s.broadcaster.BroadcastToRoom(p.TableID, network.EvtMemberLeft, memberPayload{
		TableID:  p.TableID,
		UserID:   userID,
		Username: username,
	}, sess.ID)

	return s.ack(sess, evt.ReqID, nil)
}

// handleTyping relays typing indicators to the rest of the room. They are
// ephemeral: nothing is persisted and no ack is sent.
func (s *SessionServer) handleTyping(sess *session.Session, evt *network.Event) error {
	userID, username, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p tablePayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	s.broadcaster.BroadcastToRoom(p.TableID, evt.Event, memberPayload{
		TableID:  p.TableID,
		UserID:   userID,
		Username: username,
	}, sess.ID)
	return nil
}

func (s *SessionServer) handleCreateTable(ctx context.Context, sess *session.Session, evt *network.Event) error {
	userID, _, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p createTablePayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	table, err := s.tables.CreateTable(ctx, userID, p.Name, p.PlayStyle)
	if err != nil {
		return err
	}
	return s.ack(sess, evt.ReqID, map[string]interface{}{"table": table})
}

func (s *SessionServer) handleJoinByCode(ctx context.Context, sess *session.Session, evt *network.Event) error {
	userID, _, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p joinByCodePayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	table, err := s.tables.JoinTable(ctx, userID, p.InviteCode)
	if err != nil {
		return err
	}
	return s.ack(sess, evt.ReqID, map[string]interface{}{"table": table})
}

func (s *SessionServer) handleSendMessage(ctx context.Context, sess *session.Session, evt *network.Event) error {
	userID, username, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p messagePayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}
	if p.Content == "" {
		return errors.New("message content is empty")
	}

	message, err := s.tables.SendMessage(ctx, p.TableID, userID, username, p.Content, sess.ID)
	if err != nil {
		return err
	}
	return s.ack(sess, evt.ReqID, map[string]interface{}{"message": message})
}

func (s *SessionServer) handleRollDice(ctx context.Context, sess *session.Session, evt *network.Event) error {
	userID, username, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p rollPayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	record, err := s.tables.RollDice(ctx, p.TableID, userID, username, p.Notation, p.Reason, p.Advantage, p.Disadvantage, sess.ID)
	if err != nil {
		return err
	}
	s.metrics.IncDiceRolls()
	return s.ack(sess, evt.ReqID, map[string]interface{}{"roll": record})
}

func (s *SessionServer) handleStartCombat(ctx context.Context, sess *session.Session, evt *network.Event) error {
	userID, _, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p startCombatPayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	encounter, err := s.combat.Start(ctx, p.TableID, userID, p.Name, p.Combatants)
	if err != nil {
		return err
	}
	return s.ack(sess, evt.ReqID, map[string]interface{}{"encounter": encounter})
}

func (s *SessionServer) handleNextTurn(ctx context.Context, sess *session.Session, evt *network.Event) error {
	userID, _, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p encounterPayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	encounter, err := s.combat.NextTurn(ctx, p.EncounterID, userID)
	if err != nil {
		return err
	}
	return s.ack(sess, evt.ReqID, map[string]interface{}{"encounter": encounter})
}

func (s *SessionServer) handleUpdateHP(ctx context.Context, sess *session.Session, evt *network.Event) error {
	userID, _, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p updateHPPayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	encounter, err := s.combat.UpdateHP(ctx, p.EncounterID, userID, p.CombatantID, p.HP)
	if err != nil {
		return err
	}
	return s.ack(sess, evt.ReqID, map[string]interface{}{"encounter": encounter})
}

func (s *SessionServer) handleEndCombat(ctx context.Context, sess *session.Session, evt *network.Event) error {
	userID, _, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p encounterPayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	encounter, err := s.combat.End(ctx, p.EncounterID, userID)
	if err != nil {
		return err
	}
	return s.ack(sess, evt.ReqID, map[string]interface{}{"encounter": encounter})
}

func (s *SessionServer) handleStartAsyncTurn(ctx context.Context, sess *session.Session, evt *network.Event) error {
	userID, _, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p tablePayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	turn, err := s.turns.StartTurn(ctx, p.TableID, userID)
	if err != nil {
		return err
	}
	return s.ack(sess, evt.ReqID, map[string]interface{}{"turn": turn})
}

func (s *SessionServer) handleEndAsyncTurn(ctx context.Context, sess *session.Session, evt *network.Event) error {
	userID, _, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p endTurnPayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	ended, next, err := s.turns.EndTurn(ctx, p.TableID, p.TurnID, userID)
	if err != nil {
		return err
	}
	return s.ack(sess, evt.ReqID, map[string]interface{}{
		"ended_turn": ended,
		"new_turn":   next,
	})
}

func (s *SessionServer) handleSetTurnOrder(ctx context.Context, sess *session.Session, evt *network.Event) error {
	userID, _, err := requireUser(sess)
	if err != nil {
		return err
	}
	var p turnOrderPayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	if err := s.turns.SetTurnOrder(ctx, p.TableID, userID, p.Order); err != nil {
		return err
	}
	return s.ack(sess, evt.ReqID, map[string]interface{}{"order": p.Order})
}

func (s *SessionServer) handleGetCurrentTurn(ctx context.Context, sess *session.Session, evt *network.Event) error {
	if _, _, err := requireUser(sess); err != nil {
		return err
	}
	var p tablePayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	turn, messages, err := s.turns.GetCurrentTurn(ctx, p.TableID)
	if err != nil {
		return err
	}
	return s.ack(sess, evt.ReqID, map[string]interface{}{
		"turn":     turn,
		"messages": messages,
	})
}

func (s *SessionServer) handleGetTurnHistory(ctx context.Context, sess *session.Session, evt *network.Event) error {
	if _, _, err := requireUser(sess); err != nil {
		return err
	}
	var p tablePayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return err
	}

	turns, err := s.turns.GetTurnHistory(ctx, p.TableID)
	if err != nil {
		return err
	}
	return s.ack(sess, evt.ReqID, map[string]interface{}{"turns": turns})
}

func requireUser(sess *session.Session) (string, string, error) {
	userID, username := sess.Identity()
	if userID == "" {
		return "", "", errNotBound
	}
	return userID, username, nil
}

func (s *SessionServer) ack(sess *session.Session, reqID string, data interface{}) error {
	if err := sess.Send(network.EvtAck, reqID, data); err != nil {
		logger.Log.Warnf("sending ack to session %s failed: %v", sess.ID, err)
	}
	return nil
}

func (s *SessionServer) sendError(sess *session.Session, reqID string, err error) {
	payload := network.ErrorPayload{
		Code:    wireCode(err),
		Message: err.Error(),
	}
	if sendErr := sess.Send(network.EvtError, reqID, payload); sendErr != nil {
		logger.Log.Warnf("sending error to session %s failed: %v", sess.ID, sendErr)
	}
}

// wireCode maps domain sentinel errors onto the protocol's error codes so
// clients can distinguish validation failures from denials.
func wireCode(err error) string {
	switch {
	case errors.Is(err, dice.ErrInvalidNotation):
		return network.CodeInvalidNotation
	case errors.Is(err, combat.ErrForbidden),
		errors.Is(err, asyncturn.ErrForbidden),
		errors.Is(err, services.ErrForbidden):
		return network.CodeForbidden
	case errors.Is(err, asyncturn.ErrNotYourTurn):
		return network.CodeNotYourTurn
	case errors.Is(err, combat.ErrAlreadyActive),
		errors.Is(err, asyncturn.ErrTurnAlreadyOpen):
		return network.CodeAlreadyActive
	case errors.Is(err, combat.ErrInvalidState),
		errors.Is(err, asyncturn.ErrNotAsyncTable),
		errors.Is(err, asyncturn.ErrTurnClosed):
		return network.CodeInvalidState
	case errors.Is(err, combat.ErrNotFound),
		errors.Is(err, asyncturn.ErrNotFound),
		errors.Is(err, services.ErrNotFound),
		errors.Is(err, persistence.ErrRecordNotFound):
		return network.CodeNotFound
	case errors.Is(err, asyncturn.ErrInvalidMembers):
		return network.CodeInvalidMembers
	case errors.Is(err, services.ErrCodeGenerationFailed):
		return network.CodeCodeGenFailed
	case errors.Is(err, combat.ErrNoCombatants),
		errors.Is(err, combat.ErrTooManyCombatants),
		errors.Is(err, asyncturn.ErrEmptyTurnOrder),
		errors.Is(err, services.ErrInvalidPlayStyle),
		errors.Is(err, errNotBound):
		return network.CodeBadRequest
	}

	var jsonErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &jsonErr) || errors.As(err, &typeErr) {
		return network.CodeBadRequest
	}
	return network.CodeInternal
}
