// Package repositories implements [models.ShareStore] on top of SQLite and Postgres.
//
// Key Implementations:
//   - [ShareRepository] : database/sql over go-sqlite3, schema managed by shared.RunMigrations
//   - [PGShareRepository] : pgx/v5 over any [PGX] (a *pgxpool.Pool in production), schema created by EnsureSchema
//
// Both stores translate a unique violation on share_code into shared.ErrShareCodeTaken so
// share creation can regenerate the code, and a missing row into shared.ErrShareNotFound.
package repositories
