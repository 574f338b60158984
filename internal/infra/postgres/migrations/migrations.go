// Package migrations registers the schema migrations run by the migrate
// command. Each migration lives in its own <number>_<name>.go file because
// bun derives the migration name from the registering file.
package migrations

import "github.com/uptrace/bun/migrate"

var Migrations = migrate.NewMigrations()
