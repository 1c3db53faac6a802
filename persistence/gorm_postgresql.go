// persistence/gorm_postgresql.go
package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wfunc/rpgserver/models"
)

// GormPostgreSQL implements Store on top of GORM and PostgreSQL.
type GormPostgreSQL struct {
	db *gorm.DB
}

func NewGormPostgreSQL(host string, port int, user, password, dbname string) (*GormPostgreSQL, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      logger.Silent,
			Colorful:      false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, err
	}

	return &GormPostgreSQL{db: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&TableModel{},
		&EncounterModel{},
		&AsyncTurnModel{},
		&MessageModel{},
		&RollModel{},
	)
}

func (p *GormPostgreSQL) CreateTable(ctx context.Context, table *models.Table) error {
	return p.db.WithContext(ctx).Create(tableModelFrom(table)).Error
}

func (p *GormPostgreSQL) GetTable(ctx context.Context, id string) (*models.Table, error) {
	var m TableModel
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return m.toModel(), nil
}

func (p *GormPostgreSQL) GetTableByInviteCode(ctx context.Context, code string) (*models.Table, error) {
	var m TableModel
	if err := p.db.WithContext(ctx).Where("invite_code = ?", code).First(&m).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return m.toModel(), nil
}

func (p *GormPostgreSQL) AddTableMember(ctx context.Context, tableID, userID string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m TableModel
		if err := tx.Where("id = ?", tableID).First(&m).Error; err != nil {
			return mapGormErr(err)
		}
		for _, member := range m.Members {
			if member == userID {
				return nil
			}
		}
		m.Members = append(m.Members, userID)
		return tx.Model(&m).Update("members", m.Members).Error
	})
}

func (p *GormPostgreSQL) UpdateTableTurnState(ctx context.Context, tableID string, turnOrder []string, currentTurnIndex int) error {
	res := p.db.WithContext(ctx).Model(&TableModel{}).Where("id = ?", tableID).Updates(map[string]interface{}{
		"turn_order":         turnOrder,
		"current_turn_index": currentTurnIndex,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *GormPostgreSQL) SaveEncounter(ctx context.Context, encounter *models.Encounter) error {
	return p.db.WithContext(ctx).Save(encounterModelFrom(encounter)).Error
}

func (p *GormPostgreSQL) GetEncounter(ctx context.Context, id string) (*models.Encounter, error) {
	var m EncounterModel
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return m.toModel(), nil
}

func (p *GormPostgreSQL) GetActiveEncounter(ctx context.Context, tableID string) (*models.Encounter, error) {
	var m EncounterModel
	err := p.db.WithContext(ctx).
		Where("table_id = ? AND state = ?", tableID, string(models.StateActive)).
		First(&m).Error
	if err != nil {
		return nil, mapGormErr(err)
	}
	return m.toModel(), nil
}

func (p *GormPostgreSQL) SaveAsyncTurn(ctx context.Context, turn *models.AsyncTurn) error {
	return p.db.WithContext(ctx).Save(asyncTurnModelFrom(turn)).Error
}

func (p *GormPostgreSQL) GetAsyncTurn(ctx context.Context, id string) (*models.AsyncTurn, error) {
	var m AsyncTurnModel
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, mapGormErr(err)
	}
	return m.toModel(), nil
}

func (p *GormPostgreSQL) GetOpenAsyncTurn(ctx context.Context, tableID string) (*models.AsyncTurn, error) {
	var m AsyncTurnModel
	err := p.db.WithContext(ctx).
		Where("table_id = ? AND ended_at IS NULL", tableID).
		First(&m).Error
	if err != nil {
		return nil, mapGormErr(err)
	}
	return m.toModel(), nil
}

func (p *GormPostgreSQL) ListAsyncTurns(ctx context.Context, tableID string) ([]models.AsyncTurn, error) {
	var rows []AsyncTurnModel
	err := p.db.WithContext(ctx).
		Where("table_id = ?", tableID).
		Order("started_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	turns := make([]models.AsyncTurn, 0, len(rows))
	for i := range rows {
		turns = append(turns, *rows[i].toModel())
	}
	return turns, nil
}

func (p *GormPostgreSQL) SaveMessage(ctx context.Context, message *models.Message) error {
	return p.db.WithContext(ctx).Create(&MessageModel{
		ID:        message.ID,
		TableID:   message.TableID,
		UserID:    message.UserID,
		Username:  message.Username,
		Content:   message.Content,
		CreatedAt: message.CreatedAt,
	}).Error
}

func (p *GormPostgreSQL) ListMessagesBetween(ctx context.Context, tableID string, from time.Time, to *time.Time) ([]models.Message, error) {
	q := p.db.WithContext(ctx).
		Where("table_id = ? AND created_at >= ?", tableID, from)
	if to != nil {
		q = q.Where("created_at <= ?", *to)
	}

	var rows []MessageModel
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].toModel())
	}
	return messages, nil
}

func (p *GormPostgreSQL) SaveRoll(ctx context.Context, roll *models.RollRecord) error {
	return p.db.WithContext(ctx).Create(&RollModel{
		ID:        roll.ID,
		TableID:   roll.TableID,
		UserID:    roll.UserID,
		Username:  roll.Username,
		Reason:    roll.Reason,
		Notation:  roll.Notation,
		Results:   roll.Results,
		Total:     roll.Total,
		Modifier:  roll.Modifier,
		RollType:  roll.RollType,
		Breakdown: roll.Breakdown,
		CreatedAt: roll.CreatedAt,
	}).Error
}

func (p *GormPostgreSQL) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func mapGormErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}
