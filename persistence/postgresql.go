// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// PostgreSQL driver.
	_ "github.com/lib/pq"

	"github.com/wfunc/rpgserver/models"
)

// PostgreSQL implements Store over database/sql without GORM, for
// deployments that prefer hand-written queries.
type PostgreSQL struct {
	db *sql.DB
}

func NewPostgreSQL(host string, port int, user, password, dbname string) (*PostgreSQL, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		host, port, user, password, dbname)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := initTables(db); err != nil {
		return nil, err
	}

	return &PostgreSQL{db: db}, nil
}

func initTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tables (
            id VARCHAR(64) PRIMARY KEY,
            name VARCHAR(255) NOT NULL,
            owner_id VARCHAR(64) NOT NULL,
            invite_code VARCHAR(32) UNIQUE NOT NULL,
            play_style VARCHAR(16) NOT NULL,
            members JSONB NOT NULL DEFAULT '[]',
            turn_order JSONB NOT NULL DEFAULT '[]',
            current_turn_index INT NOT NULL DEFAULT 0,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS combat_encounters (
            id VARCHAR(64) PRIMARY KEY,
            table_id VARCHAR(64) NOT NULL,
            name VARCHAR(255) NOT NULL,
            state VARCHAR(16) NOT NULL,
            combatants JSONB NOT NULL DEFAULT '[]',
            current_turn_index INT NOT NULL DEFAULT 0,
            round INT NOT NULL DEFAULT 1,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            ended_at TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS async_turns (
            id VARCHAR(64) PRIMARY KEY,
            table_id VARCHAR(64) NOT NULL,
            user_id VARCHAR(64) NOT NULL,
            started_at TIMESTAMP NOT NULL,
            deadline TIMESTAMP,
            ended_at TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS messages (
            id VARCHAR(64) PRIMARY KEY,
            table_id VARCHAR(64) NOT NULL,
            user_id VARCHAR(64) NOT NULL,
            username VARCHAR(255) NOT NULL,
            content TEXT NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS dice_rolls (
            id VARCHAR(64) PRIMARY KEY,
            table_id VARCHAR(64) NOT NULL,
            user_id VARCHAR(64) NOT NULL,
            username VARCHAR(255) NOT NULL,
            reason TEXT,
            notation VARCHAR(32) NOT NULL,
            results JSONB NOT NULL,
            total INT NOT NULL,
            modifier INT NOT NULL,
            roll_type VARCHAR(16) NOT NULL,
            breakdown TEXT NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE INDEX IF NOT EXISTS idx_encounters_table_state ON combat_encounters(table_id, state)`,
		`CREATE INDEX IF NOT EXISTS idx_async_turns_table ON async_turns(table_id, ended_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_table_created ON messages(table_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_rolls_table ON dice_rolls(table_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgreSQL) CreateTable(ctx context.Context, table *models.Table) error {
	members, err := json.Marshal(table.Members)
	if err != nil {
		return err
	}
	turnOrder, err := json.Marshal(table.TurnOrder)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO tables (id, name, owner_id, invite_code, play_style, members, turn_order, current_turn_index, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
    `
	_, err = p.db.ExecContext(ctx, query, table.ID, table.Name, table.OwnerID,
		table.InviteCode, string(table.PlayStyle), members, turnOrder,
		table.CurrentTurnIndex, table.CreatedAt)
	return err
}

func (p *PostgreSQL) GetTable(ctx context.Context, id string) (*models.Table, error) {
	return p.scanTable(ctx, `SELECT id, name, owner_id, invite_code, play_style, members, turn_order, current_turn_index, created_at, updated_at FROM tables WHERE id = $1`, id)
}

func (p *PostgreSQL) GetTableByInviteCode(ctx context.Context, code string) (*models.Table, error) {
	return p.scanTable(ctx, `SELECT id, name, owner_id, invite_code, play_style, members, turn_order, current_turn_index, created_at, updated_at FROM tables WHERE invite_code = $1`, code)
}

func (p *PostgreSQL) scanTable(ctx context.Context, query string, arg interface{}) (*models.Table, error) {
	var (
		t         models.Table
		playStyle string
		members   []byte
		turnOrder []byte
	)
	err := p.db.QueryRowContext(ctx, query, arg).Scan(
		&t.ID, &t.Name, &t.OwnerID, &t.InviteCode, &playStyle,
		&members, &turnOrder, &t.CurrentTurnIndex, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	t.PlayStyle = models.PlayStyle(playStyle)
	if err := json.Unmarshal(members, &t.Members); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(turnOrder, &t.TurnOrder); err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgreSQL) AddTableMember(ctx context.Context, tableID, userID string) error {
	// Atomic append: skip when the member is already present.
	query := `
        UPDATE tables
        SET members = members || to_jsonb($2::text), updated_at = CURRENT_TIMESTAMP
        WHERE id = $1 AND NOT members @> to_jsonb($2::text)
    `
	_, err := p.db.ExecContext(ctx, query, tableID, userID)
	return err
}

func (p *PostgreSQL) UpdateTableTurnState(ctx context.Context, tableID string, turnOrder []string, currentTurnIndex int) error {
	order, err := json.Marshal(turnOrder)
	if err != nil {
		return err
	}

	query := `
        UPDATE tables
        SET turn_order = $2, current_turn_index = $3, updated_at = CURRENT_TIMESTAMP
        WHERE id = $1
    `
	res, err := p.db.ExecContext(ctx, query, tableID, order, currentTurnIndex)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PostgreSQL) SaveEncounter(ctx context.Context, encounter *models.Encounter) error {
	combatants, err := json.Marshal(encounter.Combatants)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO combat_encounters (id, table_id, name, state, combatants, current_turn_index, round, created_at, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (id)
        DO UPDATE SET state = $4, combatants = $5, current_turn_index = $6, round = $7, ended_at = $9
    `
	_, err = p.db.ExecContext(ctx, query, encounter.ID, encounter.TableID,
		encounter.Name, string(encounter.State), combatants,
		encounter.CurrentTurnIndex, encounter.Round, encounter.CreatedAt, encounter.EndedAt)
	return err
}

func (p *PostgreSQL) GetEncounter(ctx context.Context, id string) (*models.Encounter, error) {
	return p.scanEncounter(ctx, `SELECT id, table_id, name, state, combatants, current_turn_index, round, created_at, ended_at FROM combat_encounters WHERE id = $1`, id)
}

func (p *PostgreSQL) GetActiveEncounter(ctx context.Context, tableID string) (*models.Encounter, error) {
	return p.scanEncounter(ctx, `SELECT id, table_id, name, state, combatants, current_turn_index, round, created_at, ended_at FROM combat_encounters WHERE table_id = $1 AND state = 'active'`, tableID)
}

func (p *PostgreSQL) scanEncounter(ctx context.Context, query string, arg interface{}) (*models.Encounter, error) {
	var (
		e          models.Encounter
		state      string
		combatants []byte
	)
	err := p.db.QueryRowContext(ctx, query, arg).Scan(
		&e.ID, &e.TableID, &e.Name, &state, &combatants,
		&e.CurrentTurnIndex, &e.Round, &e.CreatedAt, &e.EndedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	e.State = models.EncounterState(state)
	if err := json.Unmarshal(combatants, &e.Combatants); err != nil {
		return nil, err
	}
	return &e, nil
}

func (p *PostgreSQL) SaveAsyncTurn(ctx context.Context, turn *models.AsyncTurn) error {
	query := `
        INSERT INTO async_turns (id, table_id, user_id, started_at, deadline, ended_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id)
        DO UPDATE SET ended_at = $6
    `
	_, err := p.db.ExecContext(ctx, query, turn.ID, turn.TableID, turn.UserID,
		turn.StartedAt, turn.Deadline, turn.EndedAt)
	return err
}

func (p *PostgreSQL) GetAsyncTurn(ctx context.Context, id string) (*models.AsyncTurn, error) {
	return p.scanAsyncTurn(ctx, `SELECT id, table_id, user_id, started_at, deadline, ended_at FROM async_turns WHERE id = $1`, id)
}

func (p *PostgreSQL) GetOpenAsyncTurn(ctx context.Context, tableID string) (*models.AsyncTurn, error) {
	return p.scanAsyncTurn(ctx, `SELECT id, table_id, user_id, started_at, deadline, ended_at FROM async_turns WHERE table_id = $1 AND ended_at IS NULL`, tableID)
}

func (p *PostgreSQL) scanAsyncTurn(ctx context.Context, query string, arg interface{}) (*models.AsyncTurn, error) {
	var t models.AsyncTurn
	err := p.db.QueryRowContext(ctx, query, arg).Scan(
		&t.ID, &t.TableID, &t.UserID, &t.StartedAt, &t.Deadline, &t.EndedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (p *PostgreSQL) ListAsyncTurns(ctx context.Context, tableID string) ([]models.AsyncTurn, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, table_id, user_id, started_at, deadline, ended_at FROM async_turns WHERE table_id = $1 ORDER BY started_at ASC`, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []models.AsyncTurn
	for rows.Next() {
		var t models.AsyncTurn
		if err := rows.Scan(&t.ID, &t.TableID, &t.UserID, &t.StartedAt, &t.Deadline, &t.EndedAt); err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (p *PostgreSQL) SaveMessage(ctx context.Context, message *models.Message) error {
	query := `
        INSERT INTO messages (id, table_id, user_id, username, content, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
    `
	_, err := p.db.ExecContext(ctx, query, message.ID, message.TableID,
		message.UserID, message.Username, message.Content, message.CreatedAt)
	return err
}

func (p *PostgreSQL) ListMessagesBetween(ctx context.Context, tableID string, from time.Time, to *time.Time) ([]models.Message, error) {
	query := `SELECT id, table_id, user_id, username, content, created_at FROM messages WHERE table_id = $1 AND created_at >= $2`
	args := []interface{}{tableID, from}
	if to != nil {
		query += ` AND created_at <= $3`
		args = append(args, *to)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.TableID, &m.UserID, &m.Username, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (p *PostgreSQL) SaveRoll(ctx context.Context, roll *models.RollRecord) error {
	results, err := json.Marshal(roll.Results)
	if err != nil {
		return err
	}

	query := `
        INSERT INTO dice_rolls (id, table_id, user_id, username, reason, notation, results, total, modifier, roll_type, breakdown, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
    `
	_, err = p.db.ExecContext(ctx, query, roll.ID, roll.TableID, roll.UserID,
		roll.Username, roll.Reason, roll.Notation, results, roll.Total,
		roll.Modifier, roll.RollType, roll.Breakdown, roll.CreatedAt)
	return err
}

func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
