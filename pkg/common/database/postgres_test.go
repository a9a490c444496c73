package database

import (
	"strings"
	"testing"

	"github.com/checkeligibility/platform/pkg/common/config"
)

func TestDSNPinsUTC(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_DB", "checks")
	dsn := DSN(config.Load())

	for _, want := range []string{"host=db.internal", "dbname=checks", "TimeZone=UTC", "sslmode=disable"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
}
