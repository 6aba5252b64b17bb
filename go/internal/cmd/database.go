package main

import (
	"context"
	"database/sql"

	"github.com/mcdev12/codeduel/go/internal/archive"
	"github.com/mcdev12/codeduel/go/internal/dbconfig"
)

func setupArchive(ctx context.Context) (*sql.DB, *archive.Repository, error) {
	database, err := archive.Open(ctx, dbconfig.NewConfigFromEnv())
	if err != nil {
		return nil, nil, err
	}

	repo := archive.NewRepository(database)
	if err := repo.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, nil, err
	}
	return database, repo, nil
}
