// Package dbmigrations содержит SQL миграции, встроенные в бинарник
package dbmigrations

import "embed"

// Files - встроенные SQL миграции
//
//go:embed *.sql
var Files embed.FS
