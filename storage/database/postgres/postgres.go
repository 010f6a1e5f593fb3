package pgrepos

import (
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/licita/core"
)

const uniqueViolation = "23505"

// isUniqueViolation reports a unique constraint violation raised through either driver.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}

// dateFrom converts an optional YYYY-MM-DD date into a nullable DATE value.
func dateFrom(s *string) null.Time {
	if s == nil {
		return null.Time{}
	}
	t, err := time.Parse(core.DateLayout, *s)
	if err != nil {
		return null.Time{}
	}
	return null.TimeFrom(t)
}

// dateString converts a nullable DATE value into an optional YYYY-MM-DD date.
func dateString(t null.Time) *string {
	if !t.Valid {
		return nil
	}
	s := t.Time.Format(core.DateLayout)
	return &s
}

// rollback ends a failed transaction, keeping `err` as the cause.
func rollback(tx core.DBTransactor, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		return errors.Wrapf(err, "rolling back transaction (%v)", rbErr)
	}
	return err
}
