package repository

import (
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// postgresDSN builds a lib/pq keyword/value connection string.
// Empty settings fall back to a local development database.
func postgresDSN(cfg domain.RepositoryConfig) string {
	kv := map[string]string{
		"host":    orDefault(cfg.PostgresHost, "localhost"),
		"port":    fmt.Sprintf("%d", orDefaultInt(cfg.PostgresPort, 5432)),
		"dbname":  orDefault(cfg.PostgresDB, "kestrel"),
		"sslmode": orDefault(cfg.PostgresSSLMode, "disable"),
	}
	if cfg.PostgresUser != "" {
		kv["user"] = cfg.PostgresUser
	}
	if cfg.PostgresPassword != "" {
		kv["password"] = cfg.PostgresPassword
	}

	parts := make([]string, 0, len(kv))
	for _, key := range []string{"host", "port", "user", "password", "dbname", "sslmode"} {
		if v, ok := kv[key]; ok {
			parts = append(parts, key+"="+quoteDSNValue(v))
		}
	}
	return strings.Join(parts, " ")
}

// quoteDSNValue quotes values containing spaces or quotes per libpq rules.
func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orDefaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
