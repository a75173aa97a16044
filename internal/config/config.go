// Package config defines webkdcd's typed configuration surface (A1),
// loaded via go-zero's conf.MustLoad, embedding rest.RestConf plus
// domain-specific nested structs.
package config

import (
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/rest"
)

// KeyringConfig controls the C2 keyring file and its auto-update policy.
type KeyringConfig struct {
	Path          string        `json:",default=etc/webkdcd.keyring"`
	UpdateEnabled bool          `json:",default=true"`
	Lifetime      time.Duration `json:",default=30d"`
}

// KerberosConfig controls C4's service-identity material.
type KerberosConfig struct {
	Keytab          string
	ServerPrincipal string
	Krb5ConfPath    string `json:",optional"`
	CredCacheDir    string `json:",default=/tmp"`
}

// RateLimitConfig controls the ambient per-principal login throttle
// (internal/ratelimit), a feature the original WebKDC never had.
type RateLimitConfig struct {
	Enabled         bool    `json:",default=true"`
	AttemptsPerHour float64 `json:",default=20"`
	Burst           int     `json:",default=5"`
	RedisAddr       string  `json:",optional"`
	RedisPassword   string  `json:",optional"`
	RedisDB         int     `json:",default=0"`
}

// Config is webkdcd's top-level configuration, loaded from YAML via
// conf.MustLoad; missing fields take the defaults in the struct tags.
type Config struct {
	rest.RestConf

	Keyring               KeyringConfig
	Kerberos              KerberosConfig
	RateLimit             RateLimitConfig
	TokenMaxTTL           time.Duration `json:",default=5m"`
	ServiceTokenLifetime  time.Duration `json:",default=1h"`
	ProxyTokenMaxLifetime time.Duration `json:",default=0"`
	Debug                 bool          `json:",default=false"`
}

// Validate applies cross-field checks the configuration surface requires
// beyond what struct tags can express: ServiceTokenLifetime is mandatory
// and must be positive.
func (c *Config) Validate() error {
	if c.ServiceTokenLifetime <= 0 {
		return fmt.Errorf("config: ServiceTokenLifetime is mandatory and must be positive")
	}
	if c.Kerberos.Keytab == "" {
		return fmt.Errorf("config: Kerberos.Keytab is required")
	}
	if c.Kerberos.ServerPrincipal == "" {
		return fmt.Errorf("config: Kerberos.ServerPrincipal is required")
	}
	if c.Keyring.Path == "" {
		return fmt.Errorf("config: Keyring.Path is required")
	}
	return nil
}
