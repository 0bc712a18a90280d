package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// SQLState returns the Postgres SQLSTATE carried by err, from either the pgx
// or the lib/pq driver, or "" when err did not come from Postgres.
func SQLState(err error) string {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// LogFields flattens err into structured log fields: the typed code, the
// unwrap chain and any Postgres diagnostics. Empty values are omitted.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	fields := map[string]any{"error": err.Error()}
	if typed := As(err); typed != nil {
		fields["error_code"] = string(typed.Code())
	}

	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	if len(chain) > 1 {
		fields["error_chain"] = chain
	}

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		setNonEmpty(fields, "pg_code", pgxErr.Code)
		setNonEmpty(fields, "pg_table", pgxErr.TableName)
		setNonEmpty(fields, "pg_constraint", pgxErr.ConstraintName)
		setNonEmpty(fields, "pg_detail", pgxErr.Detail)
	case errors.As(err, &pqErr):
		setNonEmpty(fields, "pg_code", string(pqErr.Code))
		setNonEmpty(fields, "pg_table", pqErr.Table)
		setNonEmpty(fields, "pg_constraint", pqErr.Constraint)
		setNonEmpty(fields, "pg_detail", pqErr.Detail)
	}
	return fields
}

func setNonEmpty(fields map[string]any, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
