package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/abdobody2040/medilablis2/internal/platform/apperror"
)

// SQLSTATE codes the repositories care about.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeCheckViolation      = "23514"
	CodeNotNullViolation    = "23502"
	CodeInvalidTextRepr     = "22P02"
)

// ConstraintFields maps constraint names to the business-key field they
// protect, so conflicts can name the offending field.
type ConstraintFields map[string]string

// Classify converts a pgx error into an apperror. entity names the row type
// for not-found messages. Errors that are already classified pass through.
func Classify(err error, entity string, fields ConstraintFields) error {
	if err == nil {
		return nil
	}
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound("%s not found", entity)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return apperror.Internal(err)
	}

	field := fields[pgErr.ConstraintName]
	if field == "" {
		field = pgErr.ColumnName
	}

	switch pgErr.Code {
	case CodeUniqueViolation:
		if field != "" {
			return apperror.Conflict("%s with this %s already exists", entity, field)
		}
		return apperror.Conflict("%s already exists", entity)
	case CodeForeignKeyViolation:
		if field == "" {
			field = referenceFromDetail(pgErr.Detail)
		}
		return apperror.Invalid(field, "references a record that does not exist")
	case CodeNotNullViolation:
		return apperror.Invalid(field, "is required")
	case CodeCheckViolation, CodeInvalidTextRepr:
		if field == "" {
			field = entity
		}
		return apperror.Invalid(field, "has an invalid value")
	}
	return apperror.Internal(err)
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == CodeUniqueViolation
}

// referenceFromDetail pulls the column name out of a detail such as
// `Key (sample_id)=(...) is not present in table "samples".`
func referenceFromDetail(detail string) string {
	start := strings.Index(detail, "(")
	end := strings.Index(detail, ")")
	if start < 0 || end <= start {
		return "reference"
	}
	return detail[start+1 : end]
}
