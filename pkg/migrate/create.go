package migrate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/pressly/goose/v3"
)

const versionLayout = "20060102150405"

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9]+`)

var migrationTemplate = template.Must(template.New("migration").Parse(`-- +goose Up
-- +goose StatementBegin
-- {{.Name}}
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback {{.Name}}
-- +goose StatementEnd
`))

// CreateSQLMigration writes an empty goose migration into dir and returns its
// path. The version is the current UTC timestamp, bumped past any version
// already in dir so files created on a skewed clock still sort last.
func CreateSQLMigration(dir string, name string) (string, error) {
	return createAt(dir, name, time.Now().UTC())
}

func createAt(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("dir is required")
	}
	slug := slugify(name)
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %q: %w", dir, err)
	}

	latest, err := scanExisting(dir, slug)
	if err != nil {
		return "", err
	}
	version := now.Format(versionLayout)
	if v, _ := goose.NumericComponent(version + "_x.sql"); v <= latest {
		version = fmt.Sprintf("%d", latest+1)
	}

	var body bytes.Buffer
	if err := migrationTemplate.Execute(&body, struct{ Name string }{slug}); err != nil {
		return "", err
	}
	path := filepath.Join(dir, version+"_"+slug+".sql")
	if err := os.WriteFile(path, body.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write migration %q: %w", path, err)
	}
	return path, nil
}

// scanExisting returns the highest version in dir and fails if a migration
// named slug is already there.
func scanExisting(dir, slug string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read %q: %w", dir, err)
	}
	var latest int64
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}
		version, err := goose.NumericComponent(entry.Name())
		if err != nil {
			continue
		}
		if strings.TrimSuffix(strings.SplitN(entry.Name(), "_", 2)[1], ".sql") == slug {
			return 0, fmt.Errorf("migration %q already exists: %s", slug, entry.Name())
		}
		latest = max(latest, version)
	}
	return latest, nil
}

func slugify(name string) string {
	return strings.Trim(unsafeNameChars.ReplaceAllString(strings.ToLower(name), "_"), "_")
}
