// Package db holds the sqlite schema for the image asset index.
package db

import (
	_ "embed"
)

//go:embed schema.sql
var Schema string
