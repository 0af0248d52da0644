package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/foxford/dispatchd/internal/apperr"
	"github.com/foxford/dispatchd/internal/models"
)

// FindFrontend looks up the redirect URL registered for (scope, app).
func (s *Store) FindFrontend(ctx context.Context, scope, app string) (*models.Frontend, error) {
	var f models.Frontend
	err := s.pool.QueryRow(ctx, `
		SELECT scope, app, redirect_url FROM frontend WHERE scope = $1 AND app = $2`,
		scope, app,
	).Scan(&f.Scope, &f.App, &f.RedirectURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindClassPropertyNotFound, errors.New("frontend not found"))
	}
	if err != nil {
		return nil, apperr.New(apperr.KindDBQueryFailed, err)
	}
	return &f, nil
}

// UpsertFrontend registers or replaces the redirect URL for (scope, app).
func (s *Store) UpsertFrontend(ctx context.Context, f models.Frontend) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO frontend (scope, app, redirect_url) VALUES ($1, $2, $3)
		ON CONFLICT (scope, app) DO UPDATE SET redirect_url = EXCLUDED.redirect_url`,
		f.Scope, f.App, f.RedirectURL,
	)
	if err != nil {
		return apperr.New(apperr.KindDBQueryFailed, err)
	}
	return nil
}

// DeleteScope removes every frontend registration for a scope, used by the
// rollback endpoint.
func (s *Store) DeleteScope(ctx context.Context, scope string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM frontend WHERE scope = $1`, scope)
	if err != nil {
		return apperr.New(apperr.KindDBQueryFailed, err)
	}
	return nil
}
