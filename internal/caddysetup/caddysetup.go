// Package caddysetup runs an embedded Caddy instance that terminates TLS in
// front of the API server.
package caddysetup

import (
	"context"
	"encoding/json"
	"errors"

	caddy "github.com/caddyserver/caddy/v2"
	// Register standard modules (http, tls, reverse_proxy, file storage, etc.)
	_ "github.com/caddyserver/caddy/v2/modules/standard"
	"github.com/loopholelabs/logging/loggers/noop"
	"github.com/loopholelabs/logging/types"
)

var (
	ErrInvalidOptions  = errors.New("invalid options")
	ErrInvalidListen   = errors.New("invalid listen address")
	ErrInvalidUpstream = errors.New("invalid upstream")
	ErrInvalidDomain   = errors.New("invalid domain")
)

type Options struct {
	Logger types.SubLogger
	// Listen is the public address, Upstream the API server behind it.
	Listen   string
	Upstream string
	Domain   string
	// Email registers the ACME account; optional.
	Email string
}

func (o *Options) Validate() error {
	if o.Logger == nil {
		o.Logger = noop.New(types.InfoLevel)
	}
	if o.Listen == "" {
		return ErrInvalidListen
	}
	if o.Upstream == "" {
		return ErrInvalidUpstream
	}
	if o.Domain == "" {
		return ErrInvalidDomain
	}
	return nil
}

// Config renders the Caddy JSON configuration for o. localhost gets a
// certificate from Caddy's internal CA, any other domain from ACME.
func Config(o *Options) ([]byte, error) {
	if err := o.Validate(); err != nil {
		return nil, errors.Join(ErrInvalidOptions, err)
	}

	issuer := map[string]any{"module": "acme"}
	if o.Email != "" {
		issuer["email"] = o.Email
	}
	if o.Domain == "localhost" {
		issuer = map[string]any{"module": "internal"}
	}

	cfg := map[string]any{
		"apps": map[string]any{
			"tls": map[string]any{
				"automation": map[string]any{
					"policies": []any{
						map[string]any{
							"subjects": []string{o.Domain},
							"issuers":  []any{issuer},
						},
					},
				},
			},
			"http": map[string]any{
				"servers": map[string]any{
					"logcast": map[string]any{
						"listen": []string{o.Listen},
						"routes": []any{
							map[string]any{
								"match": []any{map[string]any{"host": []string{o.Domain}}},
								"handle": []any{
									map[string]any{
										"handler": "reverse_proxy",
										// updates are long-polled and streamed; never buffer them
										"flush_interval": -1,
										"upstreams": []any{
											map[string]any{"dial": o.Upstream},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
	return json.Marshal(cfg)
}

// Start launches Caddy and stops it when ctx is done.
func Start(ctx context.Context, o *Options) error {
	raw, err := Config(o)
	if err != nil {
		return err
	}

	var conf caddy.Config
	if err := json.Unmarshal(raw, &conf); err != nil {
		return err
	}

	logger := o.Logger.SubLogger("caddy").With().Str("domain", o.Domain).Logger()

	if err := caddy.Run(&conf); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		if err := caddy.Stop(); err != nil {
			logger.Error().Err(err).Msg("error stopping caddy")
		}
	}()

	logger.Info().Str("listen", o.Listen).Str("upstream", o.Upstream).Msg("caddy started")
	return nil
}
