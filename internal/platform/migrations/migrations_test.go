package migrations

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestApplyExecutesAllMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(".*").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := Apply(context.Background(), db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpMigrationsOrderedAndPaired(t *testing.T) {
	names, err := upMigrations()
	if err != nil {
		t.Fatalf("up migrations: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("expected 3 up migrations, got %v", names)
	}

	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("migrations out of order: %v", names)
		}
	}

	// Every up migration needs a matching down for golang-migrate.
	for _, name := range names {
		down := strings.Replace(name, ".up.sql", ".down.sql", 1)
		if _, err := files.ReadFile("sql/" + down); err != nil {
			t.Fatalf("missing down migration for %s: %v", name, err)
		}
	}
}
