package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/insta-extractor/internal/logging"
)

// RunClickHouseMigrations applies every .sql file in migrationsPath in name
// order. Statements must be idempotent (CREATE ... IF NOT EXISTS); there is
// no version table.
func RunClickHouseMigrations(ctx context.Context, db *ClickHouseDB, migrationsPath string) ([]string, error) {
	files, err := os.ReadDir(migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	log := logging.FromContext(ctx).WithField("store", "clickhouse")
	if len(sqlFiles) == 0 {
		log.Warn("no clickhouse migration files found")
		return nil, nil
	}

	applied := make([]string, 0, len(sqlFiles))
	for _, filename := range sqlFiles {
		filePath := filepath.Join(migrationsPath, filename)
		content, err := os.ReadFile(filePath) // #nosec G304 - path built from the configured migrations dir
		if err != nil {
			return applied, fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		for i, stmt := range splitSQLStatements(string(content)) {
			log.WithFields(map[string]interface{}{
				"file":      filename,
				"statement": i + 1,
			}).Debugf("executing %s", truncate(stmt, 80))

			if err := db.Exec(ctx, stmt); err != nil {
				return applied, fmt.Errorf("failed to execute statement %d in %s: %w", i+1, filename, err)
			}
		}

		log.WithField("file", filename).Info("applied clickhouse migration")
		applied = append(applied, filename)
	}

	return applied, nil
}

// splitSQLStatements splits a migration file on statement-ending semicolons,
// dropping blank and comment-only lines
func splitSQLStatements(content string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		stmt := strings.TrimSuffix(strings.TrimSpace(current.String()), ";")
		if stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")

		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()

	return statements
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
