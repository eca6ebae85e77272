// Package store queries the conference platform's source of truth for
// entity snapshots. The caches in internal/caches read through it; it
// is never queried on the hot path when a fresh cache entry exists.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openconf/authhub/internal/model"
)

// Source yields entity snapshots. Every ByID method returns (nil, nil)
// when the entity does not exist; errors are infrastructure failures.
type Source interface {
	ConferenceByID(ctx context.Context, id string) (*model.Conference, error)
	SubconferenceByID(ctx context.Context, id string) (*model.Subconference, error)
	RegistrantByID(ctx context.Context, id string) (*model.Registrant, error)
	UserByID(ctx context.Context, id string) (*model.User, error)
	RoomByID(ctx context.Context, id string) (*model.Room, error)
	RoomMemberships(ctx context.Context, roomID string) (map[string]model.PersonRole, error)
	ConferenceRooms(ctx context.Context, conferenceID string) (map[string]model.ManagedMode, error)
	SubconferenceRooms(ctx context.Context, subconferenceID string) (map[string]model.ManagedMode, error)
}

// Connect builds the pgx pool and verifies connectivity.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) ConferenceByID(ctx context.Context, id string) (*model.Conference, error) {
	var conference model.Conference

	err := s.pool.QueryRow(ctx,
		`SELECT id, created_by_user_id, visibility FROM conferences WHERE id = $1`,
		id,
	).Scan(&conference.ID, &conference.CreatedByUserID, &conference.Visibility)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("query conference %q: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id FROM subconferences WHERE conference_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query subconferences of %q: %w", id, err)
	}

	conference.SubconferenceIDs, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan subconferences of %q: %w", id, err)
	}

	return &conference, nil
}

func (s *Store) SubconferenceByID(ctx context.Context, id string) (*model.Subconference, error) {
	var subconference model.Subconference

	err := s.pool.QueryRow(ctx,
		`SELECT id, conference_id, visibility FROM subconferences WHERE id = $1`,
		id,
	).Scan(&subconference.ID, &subconference.ConferenceID, &subconference.Visibility)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("query subconference %q: %w", id, err)
	}

	return &subconference, nil
}

func (s *Store) RegistrantByID(ctx context.Context, id string) (*model.Registrant, error) {
	var registrant model.Registrant

	err := s.pool.QueryRow(ctx,
		`SELECT id, conference_id, user_id, role FROM registrants WHERE id = $1`,
		id,
	).Scan(&registrant.ID, &registrant.ConferenceID, &registrant.UserID, &registrant.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("query registrant %q: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT subconference_id, role FROM subconference_memberships WHERE registrant_id = $1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query memberships of %q: %w", id, err)
	}

	registrant.SubconferenceMemberships, err = pgx.CollectRows(rows,
		pgx.RowToStructByPos[model.SubconferenceMembership])
	if err != nil {
		return nil, fmt.Errorf("scan memberships of %q: %w", id, err)
	}

	return &registrant, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User

	err := s.pool.QueryRow(ctx,
		`SELECT id FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("query user %q: %w", id, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, conference_id FROM registrants WHERE user_id = $1`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("query registrants of %q: %w", id, err)
	}

	user.Registrants, err = pgx.CollectRows(rows, pgx.RowToStructByPos[model.UserRegistrant])
	if err != nil {
		return nil, fmt.Errorf("scan registrants of %q: %w", id, err)
	}

	return &user, nil
}

func (s *Store) RoomByID(ctx context.Context, id string) (*model.Room, error) {
	var room model.Room

	err := s.pool.QueryRow(ctx,
		`SELECT id, conference_id, subconference_id, managed_mode FROM rooms WHERE id = $1`,
		id,
	).Scan(&room.ID, &room.ConferenceID, &room.SubconferenceID, &room.ManagedMode)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("query room %q: %w", id, err)
	}

	return &room, nil
}

func (s *Store) RoomMemberships(ctx context.Context, roomID string) (map[string]model.PersonRole, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT registrant_id, role FROM room_memberships WHERE room_id = $1`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("query memberships of room %q: %w", roomID, err)
	}

	return collectFieldMap[model.PersonRole](rows)
}

func (s *Store) ConferenceRooms(ctx context.Context, conferenceID string) (map[string]model.ManagedMode, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, managed_mode FROM rooms WHERE conference_id = $1 AND subconference_id IS NULL`,
		conferenceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rooms of conference %q: %w", conferenceID, err)
	}

	return collectFieldMap[model.ManagedMode](rows)
}

func (s *Store) SubconferenceRooms(ctx context.Context, subconferenceID string) (map[string]model.ManagedMode, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, managed_mode FROM rooms WHERE subconference_id = $1`,
		subconferenceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rooms of subconference %q: %w", subconferenceID, err)
	}

	return collectFieldMap[model.ManagedMode](rows)
}

func collectFieldMap[T ~string](rows pgx.Rows) (map[string]T, error) {
	defer rows.Close()

	fields := make(map[string]T)

	for rows.Next() {
		var (
			key   string
			value T
		)

		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		fields[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return fields, nil
}
