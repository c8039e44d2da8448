package migration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var fileNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_-]+)\.sql$`)

// Scanner reads migrations from a directory of an fs.FS.
type Scanner struct {
	files fs.FS
	dir   string
}

// NewScanner constructs a Scanner over dir within files.
func NewScanner(files fs.FS, dir string) *Scanner {
	if dir == "" {
		dir = "."
	}
	return &Scanner{files: files, dir: dir}
}

// Scan returns every migration ordered by version.
func (s *Scanner) Scan() ([]Migration, error) {
	entries, err := fs.ReadDir(s.files, s.dir)
	if err != nil {
		return nil, &Error{Operation: "read directory " + s.dir, Err: err}
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		m, err := s.parse(entry.Name())
		if err != nil {
			return nil, err
		}
		if other, dup := seen[m.Version]; dup {
			return nil, wrap(m, "check duplicates", fmt.Errorf("%w: %s and %s", ErrDuplicateVersion, other, m.Name))
		}
		seen[m.Version] = m.Name
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func (s *Scanner) parse(name string) (Migration, error) {
	matches := fileNamePattern.FindStringSubmatch(name)
	if matches == nil {
		return Migration{}, &Error{Name: name, Operation: "validate filename", Err: fmt.Errorf("%w: %q does not match {version}_{description}.sql", ErrInvalidMigrationFile, name)}
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return Migration{}, &Error{Name: name, Operation: "parse version", Err: fmt.Errorf("%w: %v", ErrInvalidMigrationFile, err)}
	}

	raw, err := fs.ReadFile(s.files, path.Join(s.dir, name))
	if err != nil {
		return Migration{}, &Error{Version: version, Name: name, Operation: "read file", Err: err}
	}
	content := string(raw)
	if len(splitStatements(content)) == 0 {
		return Migration{}, &Error{Version: version, Name: name, Operation: "validate content", Err: fmt.Errorf("%w: no statements", ErrInvalidMigrationFile)}
	}

	sum := sha256.Sum256(raw)
	return Migration{
		Version:     version,
		Name:        name,
		Description: describe(content, matches[2]),
		SQL:         content,
		Checksum:    hex.EncodeToString(sum[:]),
	}, nil
}

// describe prefers a leading "-- Description:" comment over the filename.
func describe(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "--") {
			break
		}
		text := strings.TrimSpace(strings.TrimPrefix(line, "--"))
		if rest, ok := strings.CutPrefix(text, "Description:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return strings.ReplaceAll(fallback, "_", " ")
}

// splitStatements splits on semicolons and drops comment-only fragments.
func splitStatements(content string) []string {
	var out []string
	for _, stmt := range strings.Split(content, ";") {
		var lines []string
		for _, line := range strings.Split(stmt, "\n") {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" || strings.HasPrefix(trimmed, "--") {
				continue
			}
			lines = append(lines, trimmed)
		}
		if len(lines) > 0 {
			out = append(out, strings.Join(lines, "\n"))
		}
	}
	return out
}
