// Package config loads gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"

	"github.com/jarrod-lowe/odoo-mailgate/internal/odoo"
)

// Gateway is the configuration shared by the inbound mail functions.
type Gateway struct {
	Odoo odoo.Config

	// Bucket holds messages stored by the SES receipt rule.
	Bucket string `env:"EMAIL_BUCKET"`
	// KeyPrefix is the object key prefix configured on the receipt rule.
	KeyPrefix string `env:"EMAIL_KEY_PREFIX"`
	// BatchFailurePolicy selects which errors cause redelivery.
	BatchFailurePolicy string `env:"BATCH_FAILURE_POLICY" envDefault:"application-errors"`
	// RequeueQueueURL receives notifications for messages the SES function could not deliver.
	RequeueQueueURL string `env:"REQUEUE_QUEUE_URL"`
}

// Load reads the configuration from the process environment.
func Load() (Gateway, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from vars instead of the process environment.
func LoadFrom(vars map[string]string) (Gateway, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Gateway, error) {
	var cfg Gateway
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Gateway{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// RequireBucket returns an error when no bucket is configured.
func (g Gateway) RequireBucket() error {
	if g.Bucket == "" {
		return errors.New("EMAIL_BUCKET is required")
	}
	return nil
}
