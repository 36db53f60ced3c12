// Copyright 2025 The duesync Authors
// This file is part of the duesync library.
//
// The duesync library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The duesync library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the duesync library. If not, see <http://www.gnu.org/licenses/>.

// Package config loads the process configuration from the environment and
// derives the operational defaults shared by every pipeline.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Default situation partitions as published by the Portal Único. They can be
// overridden through the SITUATIONS_* variables when the upstream adds new
// workflow states.
var (
	DefaultCancelledSituations = []string{
		"CANCELADA_POR_EXPIRACAO_DE_PRAZO",
		"CANCELADA_PELA_ADUANA_A_PEDIDO_DO_EXPORTADOR",
		"CANCELADA_PELO_EXPORTADOR",
		"CANCELADA_PELO_SISCOMEX",
	}
	DefaultSettledSituations = []string{
		"AVERBADA_SEM_DIVERGENCIA",
		"AVERBADA_COM_DIVERGENCIA",
	}
	DefaultPendingSituations = []string{
		"EM_CARGA",
		"DESEMBARACADA",
		"AGUARDANDO_AVERBACAO",
		"EM_ELABORACAO",
		"REGISTRADA",
		"PARAMETRIZADA_VERDE",
		"PARAMETRIZADA_AMARELO",
		"PARAMETRIZADA_VERMELHO",
		"INTERROMPIDA",
	}
)

// Config carries every tunable recognized by the duesync binary. Fields are
// bound from the environment by Load; zero values are replaced by the
// documented defaults.
type Config struct {
	ClientID     string `envconfig:"CLIENT_ID"`
	ClientSecret string `envconfig:"CLIENT_SECRET"`

	RateLimitHour    int `envconfig:"RATE_LIMIT_HOUR" default:"1000"`
	SafeRequestLimit int `envconfig:"SAFE_REQUEST_LIMIT"`
	RateLimitBurst   int `envconfig:"RATE_LIMIT_BURST" default:"20"`

	AuthIntervalSec      int `envconfig:"AUTH_INTERVAL_SEC" default:"60"`
	TokenValidityMin     int `envconfig:"TOKEN_VALIDITY_MIN" default:"60"`
	TokenSafetyMarginMin int `envconfig:"TOKEN_SAFETY_MARGIN_MIN" default:"2"`

	FetchBondedSuspension   bool `envconfig:"FETCH_BONDED_SUSPENSION" default:"true"`
	FetchBondedExemption    bool `envconfig:"FETCH_BONDED_EXEMPTION" default:"false"`
	FetchFiscalRequirements bool `envconfig:"FETCH_FISCAL_REQUIREMENTS" default:"true"`

	MaxDiscoveryPerRun int `envconfig:"MAX_DISCOVERY_PER_RUN" default:"0"`
	MaxRefreshPerRun   int `envconfig:"MAX_REFRESH_PER_RUN" default:"500"`
	StalenessHours     int `envconfig:"STALENESS_HOURS" default:"24"`
	RecentSettledDays  int `envconfig:"RECENT_SETTLED_DAYS" default:"7"`
	Workers            int `envconfig:"WORKERS" default:"0"`

	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"postgres"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"due"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`

	// RedisAddr enables bearer persistence between runs when set.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	Timezone string `envconfig:"TZ" default:"America/Sao_Paulo"`

	APIBaseURL  string `envconfig:"API_BASE_URL" default:"https://portalunico.siscomex.gov.br/due/api/ext/due"`
	AuthURL     string `envconfig:"AUTH_URL" default:"https://portalunico.siscomex.gov.br/portal/api/autenticar/chave-acesso"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
	RunDeadline time.Duration `envconfig:"RUN_DEADLINE" default:"0"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE"`

	CancelledSituations []string `envconfig:"SITUATIONS_CANCELLED"`
	SettledSituations   []string `envconfig:"SITUATIONS_SETTLED"`
	PendingSituations   []string `envconfig:"SITUATIONS_PENDING"`

	loc *time.Location
}

// Load binds the environment and validates the result. A missing credential
// pair or an unparseable timezone is a fatal configuration error.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) finish() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("config: CLIENT_ID and CLIENT_SECRET are required")
	}
	if c.RateLimitHour <= 0 {
		return fmt.Errorf("config: RATE_LIMIT_HOUR must be positive, got %d", c.RateLimitHour)
	}
	if c.SafeRequestLimit <= 0 {
		c.SafeRequestLimit = c.RateLimitHour * 9 / 10
	}
	if c.Workers <= 0 {
		c.Workers = c.SafeRequestLimit / 100
		if c.Workers < 1 {
			c.Workers = 1
		}
	}
	if len(c.CancelledSituations) == 0 {
		c.CancelledSituations = DefaultCancelledSituations
	}
	if len(c.SettledSituations) == 0 {
		c.SettledSituations = DefaultSettledSituations
	}
	if len(c.PendingSituations) == 0 {
		c.PendingSituations = DefaultPendingSituations
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("config: invalid TZ %q: %w", c.Timezone, err)
	}
	c.loc = loc
	return nil
}

// Location returns the timezone used to interpret clock times embedded in
// upstream lock-out messages.
func (c *Config) Location() *time.Location {
	if c.loc == nil {
		return time.Local
	}
	return c.loc
}

// DSN assembles the Postgres connection string for the store.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// AuthInterval is the minimum spacing between credential exchanges.
func (c *Config) AuthInterval() time.Duration {
	return time.Duration(c.AuthIntervalSec) * time.Second
}

// TokenValidity is the upstream-claimed bearer lifetime.
func (c *Config) TokenValidity() time.Duration {
	return time.Duration(c.TokenValidityMin) * time.Minute
}

// TokenSafetyMargin is subtracted from the bearer lifetime when deciding
// whether a refresh is due.
func (c *Config) TokenSafetyMargin() time.Duration {
	return time.Duration(c.TokenSafetyMarginMin) * time.Minute
}

// Staleness is the age past which a settled declaration is probed again.
func (c *Config) Staleness() time.Duration {
	return time.Duration(c.StalenessHours) * time.Hour
}
