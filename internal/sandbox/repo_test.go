package sandbox

import (
	"os"
	"regexp"
	"strings"
	"testing"
)

func TestItemColumnsExistInSchema(t *testing.T) {
	ddl, err := os.ReadFile("../../db/migrations/0001_init.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}

	tableRe := regexp.MustCompile(`(?s)CREATE TABLE items \((.*?)\);`)
	match := tableRe.FindSubmatch(ddl)
	if match == nil {
		t.Fatal("items table not found in migration")
	}
	table := string(match[1])

	for _, col := range strings.Split(itemColumns, ", ") {
		colRe := regexp.MustCompile(`(?m)^\s*` + col + `\s`)
		if !colRe.MatchString(table) {
			t.Fatalf("column %q selected by the repository is missing from the items DDL", col)
		}
	}
}
