package migrate

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsHaveGooseAnnotations(t *testing.T) {
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		t.Fatalf("read embedded dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	for _, entry := range entries {
		raw, err := fs.ReadFile(migrations, dir+"/"+entry.Name())
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		body := string(raw)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s missing goose annotations", entry.Name())
		}
	}
}

func TestSupportedCommands(t *testing.T) {
	if !supported("up") || !supported("status") {
		t.Fatalf("expected up/status to be supported")
	}
	if supported("drop-everything") {
		t.Fatalf("unexpected command accepted")
	}
}
