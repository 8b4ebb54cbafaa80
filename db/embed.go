// Package db embeds the analytics warehouse migrations.
package db

import "embed"

// Migrations holds goose SQL migrations under migrations/.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations passed to goose.
const MigrationsDir = "migrations"
