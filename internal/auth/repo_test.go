package auth

import (
	"os"
	"regexp"
	"strings"
	"testing"
)

// The repository's column list and the shipped DDL drift independently; a
// column named in one but missing from the other only surfaces at runtime,
// where Authenticate collapses the database error into a failed login.
func TestUserColumnsExistInSchema(t *testing.T) {
	ddl, err := os.ReadFile("../../db/migrations/0001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}

	tableRe := regexp.MustCompile(`(?s)CREATE TABLE users \((.*?)\);`)
	match := tableRe.FindSubmatch(ddl)
	if match == nil {
		t.Fatal("users table not found in migration")
	}
	table := string(match[1])

	for _, col := range strings.Split(userColumns, ", ") {
		colRe := regexp.MustCompile(`(?m)^\s*` + col + `\s`)
		if !colRe.MatchString(table) {
			t.Fatalf("column %q selected by the repository is missing from the users DDL", col)
		}
	}
}
