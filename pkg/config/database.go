package config

import (
	dbutils "github.com/tendant/db-utils/db"
)

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	Host     string `env:"VERIFY_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"VERIFY_PG_PORT" env-default:"5432"`
	Database string `env:"VERIFY_PG_DATABASE" env-default:"verify_db"`
	User     string `env:"VERIFY_PG_USER" env-default:"verify"`
	Password string `env:"VERIFY_PG_PASSWORD" env-default:"pwd"`
}

// ToDbConfig converts the config to a db-utils DbConfig
func (d DatabaseConfig) ToDbConfig() dbutils.DbConfig {
	return dbutils.DbConfig{
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Database,
		User:     d.User,
		Password: d.Password,
	}
}

func (d DatabaseConfig) validate() ValidationErrors {
	return CollectErrors(
		RequireNonEmpty("VERIFY_PG_HOST", d.Host),
		RequireValidPort("VERIFY_PG_PORT", d.Port),
		RequireNonEmpty("VERIFY_PG_DATABASE", d.Database),
		RequireNonEmpty("VERIFY_PG_USER", d.User),
	)
}
