package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/pressly/goose/v3"
)

// PaymentTables are the tables the payments services read and write.
var PaymentTables = []string{
	"users",
	"campaigns",
	"payment_intents",
	"payment_methods",
	"outbox_events",
	"outbox_dlq",
}

var (
	fileNamePattern = regexp.MustCompile(`^(\d{14})_([a-z0-9_]+)\.sql$`)
	createTableRe   = regexp.MustCompile(`(?i)CREATE TABLE IF NOT EXISTS\s+([a-z0-9_]+)`)
	nonWordRe       = regexp.MustCompile(`[^a-z0-9]+`)
)

var migrationTemplate = template.Must(template.New("payments-migration").Parse(`-- +goose Up
-- +goose StatementBegin
-- amounts are integer minor units; add CHECK constraints for new money columns
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- +goose StatementEnd
`))

// Create writes a timestamped SQL migration into dir and returns its path.
func Create(dir, name string) (string, error) {
	slug := strings.Trim(nonWordRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", errors.New("migration name must contain letters or digits")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create migrations dir: %w", err)
	}

	before, err := sqlFiles(os.DirFS(dir))
	if err != nil {
		return "", err
	}
	if err := goose.CreateWithTemplate(nil, dir, migrationTemplate, slug, "sql"); err != nil {
		return "", fmt.Errorf("create migration: %w", err)
	}
	after, err := sqlFiles(os.DirFS(dir))
	if err != nil {
		return "", err
	}
	for name := range after {
		if !before[name] {
			return filepath.Join(dir, name), nil
		}
	}
	return "", errors.New("created migration file not found")
}

// Validate checks file names, version uniqueness, goose markers, and that
// every table in required is created by some migration.
func Validate(fsys fs.FS, required ...string) error {
	names, err := sqlFiles(fsys)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return errors.New("no migrations found")
	}

	versions := make(map[string]string, len(names))
	created := make(map[string]bool)
	var problems []string
	for name := range names {
		m := fileNamePattern.FindStringSubmatch(name)
		if m == nil {
			problems = append(problems, fmt.Sprintf("%s: expected <YYYYMMDDHHMMSS>_<snake_name>.sql", name))
			continue
		}
		if prev, ok := versions[m[1]]; ok {
			problems = append(problems, fmt.Sprintf("%s: version %s already used by %s", name, m[1], prev))
			continue
		}
		versions[m[1]] = name

		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		body := string(data)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			problems = append(problems, fmt.Sprintf("%s: missing goose Up/Down markers", name))
		}
		for _, match := range createTableRe.FindAllStringSubmatch(body, -1) {
			created[strings.ToLower(match[1])] = true
		}
	}
	for _, table := range required {
		if !created[table] {
			problems = append(problems, fmt.Sprintf("table %s is never created", table))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid migrations:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

func sqlFiles(fsys fs.FS) (map[string]bool, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	out := make(map[string]bool, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		out[entry.Name()] = true
	}
	return out, nil
}
