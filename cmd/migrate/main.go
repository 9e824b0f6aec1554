package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/pflag"

	"tlr.org/internal/migrate"
	"tlr.org/migrations"
)

func main() {
	log.SetFlags(0)
	var (
		dsn     = pflag.String("dsn", os.Getenv("TLR_PG_DSN"), "PostgreSQL DSN")
		dir     = pflag.String("dir", os.Getenv("TLR_MIGRATIONS_PATH"), "Directory holding sql/ and seeds/ (defaults to the embedded files)")
		timeout = pflag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	pflag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via --dsn or TLR_PG_DSN")
	}
	if pflag.NArg() == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	var fsys fs.FS = migrations.FS
	if *dir != "" {
		fsys = os.DirFS(*dir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	mgr := migrate.NewManager(db, fsys, migrations.SQLDir, migrations.SeedsDir)

	var ran []string
	switch pflag.Arg(0) {
	case "up":
		ran, err = mgr.Up(ctx)
	case "down":
		var version string
		if version, err = mgr.Down(ctx); err == nil {
			ran = []string{version}
		}
	case "seed":
		ran, err = mgr.Seed(ctx)
	case "status":
		var status []migrate.Migration
		status, err = mgr.Status(ctx)
		for _, item := range status {
			fmt.Println(item)
		}
	default:
		log.Fatalf("unknown command %q", pflag.Arg(0))
	}
	for _, version := range ran {
		fmt.Printf("%s %s\n", pflag.Arg(0), version)
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", pflag.Arg(0), err)
	}
}
