// Tracelight - Clickstream Event Analytics Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracelight

package config

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

// newValidator reports field paths by their koanf names so validation
// errors match what users write in config files and env mappings.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
		if tag == "" || tag == "-" {
			return fld.Name
		}
		return tag
	})
	return v
}

// Validate checks that the configuration is complete and consistent.
// Struct tag validation covers ranges and enumerations; cross-field
// rules are checked explicitly.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid value for %s: failed %q constraint", fieldPath(first), first.Tag())
		}
		return err
	}

	if err := validateNATSURL(c.NATS.URL); err != nil {
		return err
	}

	if c.RateLimit.Enabled && c.RateLimit.Store == "badger" && c.RateLimit.StorePath == "" {
		return fmt.Errorf("RATE_LIMIT_STORE_PATH is required when the badger store is enabled")
	}

	if c.Session.Capacity > 0 && c.Session.IdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be positive when session tracking is enabled")
	}

	return nil
}

func validateNATSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	if u.Scheme != "nats" && u.Scheme != "tls" {
		return fmt.Errorf("NATS_URL must use the nats:// or tls:// scheme, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("NATS_URL is missing a host")
	}
	return nil
}

// fieldPath renders a validator namespace like Config.NATS.Port as the
// user-facing nats.port.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	return strings.ToLower(ns)
}
