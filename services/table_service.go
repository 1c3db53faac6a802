// services/table_service.go
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/rpgserver/asyncturn"
	"github.com/wfunc/rpgserver/dice"
	"github.com/wfunc/rpgserver/logger"
	"github.com/wfunc/rpgserver/models"
	"github.com/wfunc/rpgserver/network"
	"github.com/wfunc/rpgserver/persistence"
	"github.com/wfunc/rpgserver/room"
)

var (
	ErrForbidden            = errors.New("user is not a member of this table")
	ErrNotFound             = errors.New("table not found")
	ErrInvalidPlayStyle     = errors.New("unknown play style")
	ErrCodeGenerationFailed = errors.New("could not generate a unique invite code")
)

// TableService owns table lifecycle, chat submission and dice rolls. Every
// mutation persists before it fans out, so a successful reply means the
// state is durable.
type TableService struct {
	store        persistence.Store
	broadcaster  room.Broadcaster
	gate         *asyncturn.Manager
	roller       *dice.Roller
	codeAttempts int
}

func NewTableService(store persistence.Store, broadcaster room.Broadcaster, gate *asyncturn.Manager, roller *dice.Roller, codeAttempts int) *TableService {
	return &TableService{
		store:        store,
		broadcaster:  broadcaster,
		gate:         gate,
		roller:       roller,
		codeAttempts: codeAttempts,
	}
}

// CreateTable creates a table with a fresh invite code. The play style is
// fixed for the table's lifetime.
func (s *TableService) CreateTable(ctx context.Context, ownerID, name string, style models.PlayStyle) (*models.Table, error) {
	switch style {
	case models.PlaySync, models.PlayAsync, models.PlaySolo:
	default:
		return nil, ErrInvalidPlayStyle
	}

	code, err := s.uniqueInviteCode(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	table := &models.Table{
		ID:         uuid.New().String(),
		Name:       name,
		OwnerID:    ownerID,
		InviteCode: code,
		PlayStyle:  style,
		Members:    []string{ownerID},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateTable(ctx, table); err != nil {
		return nil, err
	}

	logger.Log.Infow("table created", "table", table.ID, "owner", ownerID, "style", style)
	return table, nil
}

// JoinTable adds the user to the table matching the invite code.
func (s *TableService) JoinTable(ctx context.Context, userID, inviteCode string) (*models.Table, error) {
	table, err := s.store.GetTableByInviteCode(ctx, inviteCode)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if err := s.store.AddTableMember(ctx, table.ID, userID); err != nil {
		return nil, mapStoreErr(err)
	}
	return s.store.GetTable(ctx, table.ID)
}

// GetTable resolves a table by id.
func (s *TableService) GetTable(ctx context.Context, tableID string) (*models.Table, error) {
	table, err := s.store.GetTable(ctx, tableID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return table, nil
}

// SendMessage validates membership and the async turn gate, persists the
// message, then fans it out to the rest of the room.
func (s *TableService) SendMessage(ctx context.Context, tableID, userID, username, content, excludeSessionID string) (*models.Message, error) {
	table, err := s.store.GetTable(ctx, tableID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !table.HasMember(userID) {
		return nil, ErrForbidden
	}
	if err := s.gate.CanPost(ctx, table, userID); err != nil {
		return nil, err
	}

	message := &models.Message{
		ID:        uuid.New().String(),
		TableID:   tableID,
		UserID:    userID,
		Username:  username,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveMessage(ctx, message); err != nil {
		return nil, err
	}

	s.fanout(tableID, network.EvtMessageNew, message, excludeSessionID)
	return message, nil
}

// RollDice resolves the notation for a table member and records the roll.
// Advantage wins when both flags are set.
func (s *TableService) RollDice(ctx context.Context, tableID, userID, username, notation, reason string, advantage, disadvantage bool, excludeSessionID string) (*models.RollRecord, error) {
	table, err := s.store.GetTable(ctx, tableID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !table.HasMember(userID) {
		return nil, ErrForbidden
	}

	var roll dice.Roll
	switch {
	case advantage:
		roll, err = s.roller.RollWithAdvantage(notation)
	case disadvantage:
		roll, err = s.roller.RollWithDisadvantage(notation)
	default:
		roll, err = s.roller.Roll(notation)
	}
	if err != nil {
		return nil, err
	}

	record := &models.RollRecord{
		ID:        uuid.New().String(),
		TableID:   tableID,
		UserID:    userID,
		Username:  username,
		Reason:    reason,
		Notation:  roll.Notation,
		Results:   roll.Results,
		Total:     roll.Total,
		Modifier:  roll.Modifier,
		RollType:  string(roll.Type),
		Breakdown: roll.Breakdown,
		CreatedAt: time.Now(),
	}
	if err := s.store.SaveRoll(ctx, record); err != nil {
		return nil, err
	}

	s.fanout(tableID, network.EvtRollNew, map[string]interface{}{
		"roll":             record,
		"critical_success": dice.IsCriticalSuccess(roll),
		"critical_failure": dice.IsCriticalFailure(roll),
	}, excludeSessionID)
	return record, nil
}

const inviteCodeLen = 6

// uniqueInviteCode draws random codes until one is unused, giving up
// after the configured attempt cap.
func (s *TableService) uniqueInviteCode(ctx context.Context) (string, error) {
	attempts := s.codeAttempts
	if attempts <= 0 {
		attempts = 5
	}

	for i := 0; i < attempts; i++ {
		code, err := inviteCode()
		if err != nil {
			return "", err
		}
		_, err = s.store.GetTableByInviteCode(ctx, code)
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return code, nil
		}
		if err != nil {
			return "", err
		}
		logger.Log.Warnf("invite code collision on attempt %d", i+1)
	}
	return "", ErrCodeGenerationFailed
}

func inviteCode() (string, error) {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, inviteCodeLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b), nil
}

func (s *TableService) fanout(tableID, event string, data interface{}, excludeSessionID string) {
	if err := s.broadcaster.BroadcastToRoom(tableID, event, data, excludeSessionID); err != nil {
		logger.Log.Warnf("broadcast %s for table %s failed: %v", event, tableID, err)
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
