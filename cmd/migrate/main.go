package main

import (
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/manifold-inc/manifold-sdk/lib/eflag"
	"go.uber.org/zap"
)

func main() {
	dsn := flag.String("dsn", "", "Inference log DSN")
	dir := flag.String("dir", "migrations", "Directory holding the .sql migrations")
	err := eflag.SetFlagsFromEnvironment()
	if err != nil {
		panic(err)
	}
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		panic("Failed init logger")
	}
	log := logger.Sugar()
	defer func() {
		_ = log.Sync()
	}()

	if *dsn == "" {
		log.Fatal("DSN is required")
	}
	files := flag.Args()
	if len(files) == 0 {
		files, err = filepath.Glob(filepath.Join(*dir, "*.sql"))
		if err != nil {
			log.Fatalw("Failed listing migrations", "error", err)
		}
		sort.Strings(files)
	}

	db, err := sql.Open("mysql", *dsn)
	if err != nil {
		log.Fatalw("Failed connecting to database", "error", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalw("Failed pinging database", "error", err)
	}

	for _, path := range files {
		if err := apply(db, path); err != nil {
			log.Fatalw("Migration failed", "file", path, "error", err)
		}
		log.Infow("Migration applied", "file", path)
	}
}

func apply(db *sql.DB, path string) error {
	migrationSQL, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed reading migration: %w", err)
	}
	for _, stmt := range statements(string(migrationSQL)) {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed executing %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// statements splits a migration on semicolons and drops comment lines.
func statements(migrationSQL string) []string {
	var out []string
	for _, stmt := range strings.Split(migrationSQL, ";") {
		var cleanLines []string
		for _, line := range strings.Split(stmt, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
				cleanLines = append(cleanLines, line)
			}
		}
		if len(cleanLines) > 0 {
			out = append(out, strings.Join(cleanLines, "\n"))
		}
	}
	return out
}

func firstLine(stmt string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(stmt), "\n")
	return line
}
