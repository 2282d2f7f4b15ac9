package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/akinalp/stagecast/database"
	"github.com/akinalp/stagecast/models"
	"github.com/akinalp/stagecast/pkg"
)

type sqliteSessionConfigRepo struct {
	db *sql.DB
}

// NewSQLiteSessionConfigRepo, constructor: interface döner.
// UpsertAsHost transaction açtığı için *sql.DB alır.
func NewSQLiteSessionConfigRepo(db *sql.DB) SessionConfigRepository {
	return &sqliteSessionConfigRepo{db: db}
}

const sessionConfigColumns = `session_id, host_id, song_url, lyrics_url, song_gen,
	music_volume, mic_volume, is_live, is_playing, position_seconds, position_at, updated_at`

func (r *sqliteSessionConfigRepo) Get(ctx context.Context, sessionID string) (*models.SessionConfig, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sessionConfigColumns+` FROM session_configs WHERE session_id = ?`, sessionID)

	cfg, err := scanSessionConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session config %s", pkg.ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get session config: %w", err)
	}
	return cfg, nil
}

func (r *sqliteSessionConfigRepo) Upsert(ctx context.Context, cfg *models.SessionConfig) (bool, error) {
	return upsertSessionConfig(ctx, r.db, cfg)
}

// UpsertAsHost, host kontrolü ile yazımı tek transaction'da yapar.
// Kontrol ile yazım arasında başka bir client satırı sahiplenemez.
func (r *sqliteSessionConfigRepo) UpsertAsHost(ctx context.Context, cfg *models.SessionConfig) (applied bool, err error) {
	err = database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var hostID string
		err := tx.QueryRowContext(ctx,
			`SELECT host_id FROM session_configs WHERE session_id = ?`, cfg.SessionID).Scan(&hostID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return fmt.Errorf("lookup session host: %w", err)
		case hostID != cfg.HostID:
			return fmt.Errorf("%w: only the host can update the session", pkg.ErrForbidden)
		}

		applied, err = upsertSessionConfig(ctx, tx, cfg)
		return err
	})
	return applied, err
}

// upsertSessionConfig: ON CONFLICT DO UPDATE ... WHERE excluded.song_gen >= song_gen.
// WHERE koşulu tutmazsa SQLite satırı güncellemez ve rowsAffected 0 olur.
func upsertSessionConfig(ctx context.Context, db database.TxQuerier, cfg *models.SessionConfig) (bool, error) {
	if cfg.UpdatedAt.IsZero() {
		cfg.UpdatedAt = time.Now().UTC()
	}

	var positionAt any
	if !cfg.PositionAt.IsZero() {
		positionAt = cfg.PositionAt.UTC()
	}

	result, err := db.ExecContext(ctx, `
		INSERT INTO session_configs (`+sessionConfigColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			host_id          = excluded.host_id,
			song_url         = excluded.song_url,
			lyrics_url       = excluded.lyrics_url,
			song_gen         = excluded.song_gen,
			music_volume     = excluded.music_volume,
			mic_volume       = excluded.mic_volume,
			is_live          = excluded.is_live,
			is_playing       = excluded.is_playing,
			position_seconds = excluded.position_seconds,
			position_at      = excluded.position_at,
			updated_at       = excluded.updated_at
		WHERE excluded.song_gen >= session_configs.song_gen`,
		cfg.SessionID, cfg.HostID, cfg.SongURL, cfg.LyricsURL, cfg.SongGen,
		cfg.MusicVolume, cfg.MicVolume, cfg.IsLive, cfg.IsPlaying,
		cfg.PositionSeconds, positionAt, cfg.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("upsert session config: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert session config rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *sqliteSessionConfigRepo) Delete(ctx context.Context, sessionID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM session_configs WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session config: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session config rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: session config %s", pkg.ErrNotFound, sessionID)
	}
	return nil
}

func (r *sqliteSessionConfigRepo) ListLive(ctx context.Context) ([]models.SessionConfig, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionConfigColumns+` FROM session_configs WHERE is_live = 1 ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list live sessions: %w", err)
	}
	defer rows.Close()

	var out []models.SessionConfig
	for rows.Next() {
		cfg, err := scanSessionConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session config: %w", err)
		}
		out = append(out, *cfg)
	}
	return out, rows.Err()
}

func scanSessionConfig(s rowScanner) (*models.SessionConfig, error) {
	var (
		cfg        models.SessionConfig
		positionAt sql.NullTime
	)
	err := s.Scan(
		&cfg.SessionID, &cfg.HostID, &cfg.SongURL, &cfg.LyricsURL, &cfg.SongGen,
		&cfg.MusicVolume, &cfg.MicVolume, &cfg.IsLive, &cfg.IsPlaying,
		&cfg.PositionSeconds, &positionAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if positionAt.Valid {
		cfg.PositionAt = positionAt.Time
	}
	return &cfg, nil
}
