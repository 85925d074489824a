// Package appfs embeds the files the binaries need at runtime.
package appfs

import "embed"

// The email layouts start with "_": they are only embedded when matched by a pattern.
//
//go:embed migrations templates/email/*
var FS embed.FS

const (
	MigrationsDir     = "migrations"
	EmailTemplatesDir = "templates/email"
)
