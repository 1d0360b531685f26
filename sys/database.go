package sys

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
	_ "github.com/mattn/go-sqlite3"
)

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS play_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			title TEXT NOT NULL,
			url TEXT NOT NULL,
			source TEXT NOT NULL,
			duration_ms INTEGER DEFAULT 0,
			played_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS guild_settings (
			guild_id TEXT PRIMARY KEY,
			volume REAL DEFAULT 1.0,
			repeat_mode INTEGER DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// --- Play History ---

type PlayRecord struct {
	ID         int64
	GuildID    snowflake.ID
	UserID     snowflake.ID
	Title      string
	URL        string
	Source     string
	DurationMS int64
	PlayedAt   time.Time
}

func AddPlayRecord(ctx context.Context, r *PlayRecord) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO play_history (guild_id, user_id, title, url, source, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.GuildID.String(), r.UserID.String(), r.Title, r.URL, r.Source, r.DurationMS)
	return err
}

func GetRecentPlays(ctx context.Context, guildID snowflake.ID, limit int) ([]*PlayRecord, error) {
	rows, err := DB.QueryContext(ctx, `
		SELECT id, guild_id, user_id, title, url, source, duration_ms, played_at
		FROM play_history WHERE guild_id = ? ORDER BY played_at DESC LIMIT ?
	`, guildID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*PlayRecord
	for rows.Next() {
		r := &PlayRecord{}
		var gid, uid string
		err := rows.Scan(&r.ID, &gid, &uid, &r.Title, &r.URL, &r.Source, &r.DurationMS, &r.PlayedAt)
		if err != nil {
			return nil, err
		}
		r.GuildID, _ = snowflake.Parse(gid)
		r.UserID, _ = snowflake.Parse(uid)
		records = append(records, r)
	}
	return records, nil
}

func GetPlayCount(ctx context.Context, guildID snowflake.ID) (int, error) {
	var count int
	err := DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM play_history WHERE guild_id = ?", guildID.String()).Scan(&count)
	return count, err
}

// --- Guild Settings ---

type GuildSettings struct {
	GuildID    snowflake.ID
	Volume     float64
	RepeatMode int
	UpdatedAt  time.Time
}

func SetGuildVolume(ctx context.Context, guildID snowflake.ID, volume float64) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, volume) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET volume = excluded.volume, updated_at = CURRENT_TIMESTAMP
	`, guildID.String(), volume)
	return err
}

func SetGuildRepeatMode(ctx context.Context, guildID snowflake.ID, mode int) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO guild_settings (guild_id, repeat_mode) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET repeat_mode = excluded.repeat_mode, updated_at = CURRENT_TIMESTAMP
	`, guildID.String(), mode)
	return err
}

func GetGuildSettings(ctx context.Context, guildID snowflake.ID) (*GuildSettings, error) {
	row := DB.QueryRowContext(ctx, `
		SELECT guild_id, volume, repeat_mode, updated_at
		FROM guild_settings WHERE guild_id = ?
	`, guildID.String())

	s := &GuildSettings{}
	var gid string
	err := row.Scan(&gid, &s.Volume, &s.RepeatMode, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.GuildID, _ = snowflake.Parse(gid)
	return s, nil
}
