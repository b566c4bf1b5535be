package store

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTranslateMapsDriverErrors(t *testing.T) {
	transport := errors.New("connection reset")
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, ErrNotFound},
		{"unique", &pgconn.PgError{Code: "23505", ConstraintName: "project_members_project_user_key"}, ErrConflict},
		{"foreign key", &pgconn.PgError{Code: "23503"}, ErrNotFound},
		{"bad uuid", &pgconn.PgError{Code: "22P02"}, ErrNotFound},
		{"other", transport, transport},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := translate("op", tc.err)
			if !errors.Is(got, tc.want) {
				t.Fatalf("translate(%v) = %v, want wrapping %v", tc.err, got, tc.want)
			}
		})
	}
	if translate("op", nil) != nil {
		t.Fatal("translate(nil) must be nil")
	}
}

func TestTranslateKeepsDriverErrorInChain(t *testing.T) {
	got := translate("insert membership", &pgconn.PgError{Code: "23505"})
	var pgErr *pgconn.PgError
	if !errors.As(got, &pgErr) {
		t.Fatalf("expected pg error to be unwrappable from %v", got)
	}
}
