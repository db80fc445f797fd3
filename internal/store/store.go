package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cradlewatch/cradlewatch/internal/config"
	"github.com/cradlewatch/cradlewatch/internal/detect"
	"github.com/cradlewatch/cradlewatch/internal/silence"
)

const schemaVersion = 1

// Status marks how processing of one recording ended.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Result is the complete, cached outcome of analyzing one recording. The
// fingerprint keys the cache: a recording whose fingerprint is already stored
// is skipped on subsequent runs.
type Result struct {
	Fingerprint    string           `json:"fingerprint"`
	Path           string           `json:"path"`
	DeviceID       string           `json:"device_id"`
	RecStart       time.Time        `json:"rec_start"`
	RecEnd         time.Time        `json:"rec_end"`
	DateLabel      string           `json:"date"`
	Status         Status           `json:"status"`
	Duration       float64          `json:"duration_s"`
	SilentFraction float64          `json:"silent_fraction"`
	Silence        silence.Map      `json:"silence"`
	Episodes       []detect.Episode `json:"episodes"`
	ProcessedAt    time.Time        `json:"processed_at"`
	ErrorMessage   string           `json:"error,omitempty"`
}

// DateSummary aggregates one calendar day of processed recordings.
type DateSummary struct {
	Date       string `json:"date"`
	Recordings int    `json:"recordings"`
	Episodes   int    `json:"episodes"`
}

// Stats is a whole-database rollup served by the query API.
type Stats struct {
	Recordings    int            `json:"recordings"`
	Processed     int            `json:"processed"`
	Failed        int            `json:"failed"`
	Dates         int            `json:"dates"`
	EpisodesTotal int            `json:"episodes_total"`
	EpisodesBy    map[string]int `json:"episodes_by_type"`
}

// Store persists analysis results and tuning settings in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the result database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	db, err := openDB(dbPath, DefaultSQLiteConfig())
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	schema := `
	CREATE TABLE IF NOT EXISTS recordings (
		fingerprint     TEXT PRIMARY KEY,
		file_path       TEXT NOT NULL,
		device_id       TEXT NOT NULL,
		rec_start       TEXT NOT NULL,
		rec_end         TEXT NOT NULL,
		date_label      TEXT NOT NULL,
		status          TEXT NOT NULL,
		duration_s      REAL NOT NULL,
		silent_fraction REAL NOT NULL,
		silence_map     TEXT NOT NULL,
		processed_at    TEXT NOT NULL,
		error_message   TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_date ON recordings(date_label);

	CREATE TABLE IF NOT EXISTS episodes (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		fingerprint    TEXT NOT NULL REFERENCES recordings(fingerprint) ON DELETE CASCADE,
		event_type     TEXT NOT NULL,
		start_s        REAL NOT NULL,
		end_s          REAL NOT NULL,
		severity       TEXT NOT NULL,
		peak_conf      REAL NOT NULL,
		mean_conf      REAL NOT NULL,
		peak_secondary REAL,
		frame_count    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_fingerprint ON episodes(fingerprint);

	CREATE TABLE IF NOT EXISTS settings (
		id   INTEGER PRIMARY KEY CHECK (id = 1),
		body TEXT NOT NULL
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// Put stores one result, replacing any previous result for the same
// fingerprint together with its episodes in a single transaction.
func (s *Store) Put(ctx context.Context, r Result) error {
	silenceJSON, err := json.Marshal(r.Silence)
	if err != nil {
		return fmt.Errorf("store: encode silence map: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
	INSERT INTO recordings (fingerprint, file_path, device_id, rec_start, rec_end,
		date_label, status, duration_s, silent_fraction, silence_map, processed_at, error_message)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(fingerprint) DO UPDATE SET
		file_path       = excluded.file_path,
		device_id       = excluded.device_id,
		rec_start       = excluded.rec_start,
		rec_end         = excluded.rec_end,
		date_label      = excluded.date_label,
		status          = excluded.status,
		duration_s      = excluded.duration_s,
		silent_fraction = excluded.silent_fraction,
		silence_map     = excluded.silence_map,
		processed_at    = excluded.processed_at,
		error_message   = excluded.error_message
	`,
		r.Fingerprint, r.Path, r.DeviceID,
		r.RecStart.Format(time.RFC3339), r.RecEnd.Format(time.RFC3339),
		r.DateLabel, string(r.Status), r.Duration, r.SilentFraction,
		string(silenceJSON), r.ProcessedAt.Format(time.RFC3339), r.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("store: upsert recording: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM episodes WHERE fingerprint = ?`, r.Fingerprint); err != nil {
		return fmt.Errorf("store: clear episodes: %w", err)
	}
	for _, ep := range r.Episodes {
		var secondary sql.NullFloat64
		if ep.PeakSecondary != nil {
			secondary = sql.NullFloat64{Float64: *ep.PeakSecondary, Valid: true}
		}
		_, err := tx.ExecContext(ctx, `
		INSERT INTO episodes (fingerprint, event_type, start_s, end_s, severity,
			peak_conf, mean_conf, peak_secondary, frame_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			r.Fingerprint, string(ep.Type), ep.Start, ep.End, string(ep.Severity),
			ep.PeakConfidence, ep.MeanConfidence, secondary, ep.FrameCount,
		)
		if err != nil {
			return fmt.Errorf("store: insert episode: %w", err)
		}
	}

	return tx.Commit()
}

// Get fetches the cached result for fingerprint. The second return value is
// false when no result is stored.
func (s *Store) Get(ctx context.Context, fingerprint string) (Result, bool, error) {
	var (
		r           Result
		recStart    string
		recEnd      string
		processedAt string
		silenceJSON string
	)
	err := s.db.QueryRowContext(ctx, `
	SELECT fingerprint, file_path, device_id, rec_start, rec_end, date_label,
		status, duration_s, silent_fraction, silence_map, processed_at, error_message
	FROM recordings WHERE fingerprint = ?
	`, fingerprint).Scan(
		&r.Fingerprint, &r.Path, &r.DeviceID, &recStart, &recEnd, &r.DateLabel,
		&r.Status, &r.Duration, &r.SilentFraction, &silenceJSON, &processedAt, &r.ErrorMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, fmt.Errorf("store: get recording: %w", err)
	}

	if r.RecStart, err = time.Parse(time.RFC3339, recStart); err != nil {
		return Result{}, false, fmt.Errorf("store: parse rec_start: %w", err)
	}
	if r.RecEnd, err = time.Parse(time.RFC3339, recEnd); err != nil {
		return Result{}, false, fmt.Errorf("store: parse rec_end: %w", err)
	}
	if r.ProcessedAt, err = time.Parse(time.RFC3339, processedAt); err != nil {
		return Result{}, false, fmt.Errorf("store: parse processed_at: %w", err)
	}
	if err := json.Unmarshal([]byte(silenceJSON), &r.Silence); err != nil {
		return Result{}, false, fmt.Errorf("store: decode silence map: %w", err)
	}

	if r.Episodes, err = s.episodesFor(ctx, fingerprint); err != nil {
		return Result{}, false, err
	}
	return r, true, nil
}

func (s *Store) episodesFor(ctx context.Context, fingerprint string) ([]detect.Episode, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT event_type, start_s, end_s, severity, peak_conf, mean_conf, peak_secondary, frame_count
	FROM episodes WHERE fingerprint = ? ORDER BY start_s, end_s
	`, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("store: list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []detect.Episode
	for rows.Next() {
		var (
			ep        detect.Episode
			secondary sql.NullFloat64
		)
		if err := rows.Scan(&ep.Type, &ep.Start, &ep.End, &ep.Severity,
			&ep.PeakConfidence, &ep.MeanConfidence, &secondary, &ep.FrameCount); err != nil {
			return nil, fmt.Errorf("store: scan episode: %w", err)
		}
		if secondary.Valid {
			v := secondary.Float64
			ep.PeakSecondary = &v
		}
		episodes = append(episodes, ep)
	}
	return episodes, rows.Err()
}

// ListDates returns one summary row per calendar day, newest first.
func (s *Store) ListDates(ctx context.Context) ([]DateSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT r.date_label, COUNT(DISTINCT r.fingerprint), COUNT(e.id)
	FROM recordings r
	LEFT JOIN episodes e ON e.fingerprint = r.fingerprint
	GROUP BY r.date_label
	ORDER BY r.date_label DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list dates: %w", err)
	}
	defer rows.Close()

	var out []DateSummary
	for rows.Next() {
		var d DateSummary
		if err := rows.Scan(&d.Date, &d.Recordings, &d.Episodes); err != nil {
			return nil, fmt.Errorf("store: scan date summary: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecordingsForDate returns every cached result for one calendar day, ordered
// by recording start time, episodes included.
func (s *Store) RecordingsForDate(ctx context.Context, date string) ([]Result, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT fingerprint FROM recordings WHERE date_label = ? ORDER BY rec_start
	`, date)
	if err != nil {
		return nil, fmt.Errorf("store: recordings for date: %w", err)
	}
	defer rows.Close()

	var fingerprints []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("store: scan fingerprint: %w", err)
		}
		fingerprints = append(fingerprints, fp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []Result
	for _, fp := range fingerprints {
		r, ok, err := s.Get(ctx, fp)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Stats computes a whole-database rollup.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{EpisodesBy: map[string]int{}}

	err := s.db.QueryRowContext(ctx, `
	SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COUNT(DISTINCT date_label)
	FROM recordings
	`, string(StatusOK), string(StatusError)).Scan(&st.Recordings, &st.Processed, &st.Failed, &st.Dates)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats rollup: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM episodes GROUP BY event_type`)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats episodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			eventType string
			n         int
		)
		if err := rows.Scan(&eventType, &n); err != nil {
			return Stats{}, fmt.Errorf("store: scan episode count: %w", err)
		}
		st.EpisodesBy[eventType] = n
		st.EpisodesTotal += n
	}
	return st, rows.Err()
}

// LoadSettings returns the persisted tuning settings, or the defaults when
// none have been saved yet. Missing fields are backfilled with defaults.
func (s *Store) LoadSettings(ctx context.Context) (config.Settings, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM settings WHERE id = 1`).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return config.DefaultSettings(), nil
	}
	if err != nil {
		return config.Settings{}, fmt.Errorf("store: load settings: %w", err)
	}

	var settings config.Settings
	if err := json.Unmarshal([]byte(body), &settings); err != nil {
		return config.Settings{}, fmt.Errorf("store: decode settings: %w", err)
	}
	return settings.MergeDefaults(), nil
}

// SaveSettings validates and persists tuning settings.
func (s *Store) SaveSettings(ctx context.Context, settings config.Settings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("store: invalid settings: %w", err)
	}
	body, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("store: encode settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO settings (id, body) VALUES (1, ?)
	ON CONFLICT(id) DO UPDATE SET body = excluded.body
	`, string(body))
	if err != nil {
		return fmt.Errorf("store: save settings: %w", err)
	}
	return nil
}
