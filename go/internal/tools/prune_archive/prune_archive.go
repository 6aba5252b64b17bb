package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/codeduel/go/internal/dbconfig"
)

func main() {
	olderThan := flag.Duration("older-than", 30*24*time.Hour, "delete results archived before now minus this duration")
	dryRun := flag.Bool("dry-run", false, "only count the results that would be deleted")
	flag.Parse()

	if *olderThan <= 0 {
		fmt.Fprintln(os.Stderr, "-older-than must be positive")
		os.Exit(2)
	}
	cutoff := time.Now().Add(-*olderThan)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if *dryRun {
		var n int64
		err := pool.QueryRow(ctx,
			`SELECT COUNT(*) FROM duel_results WHERE archived_at < $1`, cutoff,
		).Scan(&n)
		if err != nil {
			fmt.Fprintf(os.Stderr, "count results: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Archive prune (dry run): %d results archived before %s\n", n, cutoff.Format(time.RFC3339))
		return
	}

	// Participants go with their result through ON DELETE CASCADE.
	cmdTag, err := pool.Exec(ctx, `DELETE FROM duel_results WHERE archived_at < $1`, cutoff)
	if err != nil {
		fmt.Fprintf(os.Stderr, "delete results: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Archive prune complete: %d results archived before %s deleted\n",
		cmdTag.RowsAffected(), cutoff.Format(time.RFC3339))
}
