package db_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/searchsync/indexqueue/internal/db"
)

func TestMigrationURL(t *testing.T) {
	tests := map[string]string{
		"postgres://u:p@localhost:5432/iq?sslmode=disable": "pgx5://u:p@localhost:5432/iq?sslmode=disable",
		"postgresql://u@db/iq":                             "pgx5://u@db/iq",
		"u@db/iq":                                          "pgx5://u@db/iq",
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, db.MigrationURL(in))
		})
	}
}
