// Package svc wires webkdcd's configuration into its runtime collaborators,
// following a NewServiceContext(c config.Config) *ServiceContext
// construction pattern.
package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/webauth/webkdcd/internal/config"
	"github.com/webauth/webkdcd/internal/httpapi"
	"github.com/webauth/webkdcd/internal/issuance"
	"github.com/webauth/webkdcd/internal/keyring"
	"github.com/webauth/webkdcd/internal/krb5"
	"github.com/webauth/webkdcd/internal/metrics"
	"github.com/webauth/webkdcd/internal/ratelimit"
)

// ServiceContext bundles every collaborator webkdcd's HTTP handler needs for
// the lifetime of the process.
type ServiceContext struct {
	Config  config.Config
	Ring    *keyring.Ring
	Issuer  *issuance.Env
	Limiter ratelimit.Limiter
	Metrics *metrics.Metrics
	Log     *zap.Logger
	Handler *httpapi.Handler
}

// NewServiceContext loads the C2 keyring (auto-creating or auto-updating it
//.2), builds the krb5.AdapterFactory, and wires everything
// into an httpapi.Handler ready to be registered on a rest.Server.
func NewServiceContext(c config.Config) (*ServiceContext, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	log, err := newLogger(c.Debug)
	if err != nil {
		return nil, fmt.Errorf("svc: build logger: %w", err)
	}

	store := keyring.FileStore{}
	ring, _, updateErr, err := keyring.AutoUpdate(&store, c.Keyring.Path, c.Keyring.UpdateEnabled, c.Keyring.Lifetime, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("svc: keyring auto_update: %w", err)
	}
	if updateErr != nil {
		log.Error("keyring persist failed, continuing with in-memory ring", zap.Error(updateErr))
	}

	newAdapter := func() krb5.Adapter {
		ctx, err := krb5.New(c.Kerberos.Krb5ConfPath)
		if err != nil {
			// A Context that always fails InitViaX is preferable to a nil
			// Adapter: callers see a consistent server_failure rather than
			// a panic deep in the issuance pipeline.
			return failingAdapter{err: err}
		}
		return ctx
	}

	limiter := buildLimiter(c.RateLimit, log)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	issuer := &issuance.Env{
		Ring:       ring,
		NewAdapter: newAdapter,
		Config: issuance.Config{
			ServiceTokenLifetime:  c.ServiceTokenLifetime,
			ProxyTokenMaxLifetime: c.ProxyTokenMaxLifetime,
			TokenMaxTTL:           c.TokenMaxTTL,
			ServerPrincipal:       c.Kerberos.ServerPrincipal,
			ServerKeytabPath:      c.Kerberos.Keytab,
		},
	}

	handler := &httpapi.Handler{Env: issuer, Log: log, Debug: c.Debug}

	return &ServiceContext{
		Config: c, Ring: ring, Issuer: issuer, Limiter: limiter,
		Metrics: m, Log: log, Handler: handler,
	}, nil
}

func buildLimiter(c config.RateLimitConfig, log *zap.Logger) ratelimit.Limiter {
	if !c.Enabled {
		return noopLimiter{}
	}
	if c.RedisAddr != "" {
		client, err := ratelimit.NewRedisClient(log, c.RedisAddr, c.RedisPassword, c.RedisDB)
		if err != nil {
			log.Error("falling back to local rate limiter", zap.Error(err))
			return ratelimit.NewLocal(rate.Limit(c.AttemptsPerHour/3600.0), c.Burst)
		}
		return ratelimit.NewDistributed(client, int64(c.AttemptsPerHour), time.Hour)
	}
	return ratelimit.NewLocal(rate.Limit(c.AttemptsPerHour/3600.0), c.Burst)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

type noopLimiter struct{}

func (noopLimiter) Allow(ctx context.Context, principal string) (bool, error) { return true, nil }

// failingAdapter satisfies krb5.Adapter when the per-request Context could
// not be constructed (e.g. an unreadable krb5.conf), so the issuance
// pipeline still gets a clean server_failure instead of a nil dereference.
type failingAdapter struct{ err error }

func (f failingAdapter) InitViaPassword(ctx context.Context, principal, password, serverKeytabPath, serverPrincipal string) error {
	return f.err
}
func (f failingAdapter) InitViaKeytab(ctx context.Context, principal, keytabPath string) error {
	return f.err
}
func (f failingAdapter) InitViaCred(ctx context.Context, blob []byte) error { return f.err }
func (f failingAdapter) ExportCred() ([]byte, time.Time, error)            { return nil, time.Time{}, f.err }
func (f failingAdapter) MkReq(ctx context.Context, serverPrincipal string) ([]byte, error) {
	return nil, f.err
}
func (f failingAdapter) RdReq(ctx context.Context, apReq []byte, keytabPath, serverPrincipal string) (string, error) {
	return "", f.err
}
func (f failingAdapter) ExportTicket(ctx context.Context, serverPrincipal string) ([]byte, time.Time, error) {
	return nil, time.Time{}, f.err
}
func (f failingAdapter) GetPrincipal(localName bool) (string, error) { return "", f.err }
func (f failingAdapter) Free()                                       {}
