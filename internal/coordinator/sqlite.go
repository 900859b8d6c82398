package coordinator

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/metal-toolbox/vbmc/internal/model"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // registers the sqlite driver
)

const (
	overlayTable = "boot_overlays"

	createOverlayTable = `CREATE TABLE IF NOT EXISTS ` + overlayTable + ` (
	driver        TEXT    NOT NULL,
	backend_id    TEXT    NOT NULL,
	state         INTEGER NOT NULL,
	target        TEXT    NOT NULL,
	persistent    INTEGER NOT NULL,
	native_target TEXT    NOT NULL,
	applied       INTEGER NOT NULL,
	last_power    TEXT    NOT NULL,
	updated_at    INTEGER NOT NULL,
	PRIMARY KEY (driver, backend_id)
)`
)

var (
	ErrOverlayStore = errors.New("overlay store error")

	overlayColumns = []string{
		"driver", "backend_id", "state", "target", "persistent",
		"native_target", "applied", "last_power", "updated_at",
	}
)

// SQLiteStore keeps overlays in a sqlite database so they survive restarts.
type SQLiteStore struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

// NewSQLiteStore opens or creates the database at path, ":memory:" keeps it in memory.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.Wrap(ErrOverlayStore, "sqlite path not set")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(ErrOverlayStore, err.Error())
	}

	// a single connection keeps in-memory databases shared and writes serialized
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{"PRAGMA busy_timeout = 5000", createOverlayTable} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(ErrOverlayStore, err.Error())
		}
	}

	return &SQLiteStore{
		db:      db,
		builder: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key Key) (Overlay, bool, error) {
	query, args, err := s.builder.
		Select(overlayColumns[2:]...).
		From(overlayTable).
		Where(sq.Eq{"driver": key.Driver, "backend_id": key.BackendID}).
		ToSql()
	if err != nil {
		return Overlay{}, false, errors.Wrap(ErrOverlayStore, err.Error())
	}

	var (
		o                         Overlay
		state                     int
		target, native, lastPower string
		updatedAt                 int64
	)

	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&state, &target, &o.Persistent, &native, &o.Applied, &lastPower, &updatedAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Overlay{}, false, nil
	case err != nil:
		return Overlay{}, false, errors.Wrap(ErrOverlayStore, err.Error())
	}

	o.State = State(state)
	o.Target = model.BootTarget(target)
	o.NativeTarget = model.BootTarget(native)
	o.LastPower = model.PowerState(lastPower)
	o.UpdatedAt = time.Unix(0, updatedAt).UTC()

	return o, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key Key, o Overlay) error {
	query, args, err := s.builder.
		Insert(overlayTable).
		Columns(overlayColumns...).
		Values(
			key.Driver,
			key.BackendID,
			int(o.State),
			string(o.Target),
			o.Persistent,
			string(o.NativeTarget),
			o.Applied,
			string(o.LastPower),
			o.UpdatedAt.UnixNano(),
		).
		Suffix(`ON CONFLICT (driver, backend_id) DO UPDATE SET
			state = excluded.state,
			target = excluded.target,
			persistent = excluded.persistent,
			native_target = excluded.native_target,
			applied = excluded.applied,
			last_power = excluded.last_power,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return errors.Wrap(ErrOverlayStore, err.Error())
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(ErrOverlayStore, err.Error())
	}

	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, key Key) error {
	query, args, err := s.builder.
		Delete(overlayTable).
		Where(sq.Eq{"driver": key.Driver, "backend_id": key.BackendID}).
		ToSql()
	if err != nil {
		return errors.Wrap(ErrOverlayStore, err.Error())
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(ErrOverlayStore, err.Error())
	}

	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context, driver string) ([]Key, error) {
	query, args, err := s.builder.
		Select("backend_id").
		From(overlayTable).
		Where(sq.Eq{"driver": driver}).
		OrderBy("backend_id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(ErrOverlayStore, err.Error())
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(ErrOverlayStore, err.Error())
	}
	defer rows.Close()

	keys := []Key{}

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(ErrOverlayStore, err.Error())
		}

		keys = append(keys, Key{Driver: driver, BackendID: id})
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(ErrOverlayStore, err.Error())
	}

	return keys, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
