// Package appid holds the quotapace application identity.
package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"
)

// Identity values shared by the CLI, config discovery and telemetry.
const (
	BinaryName  = "quotapace"
	ConfigName  = "quotapace"
	EnvPrefix   = "QUOTAPACE_"
	Vendor      = "quotapace"
	Description = "Adaptive request pacing for quota-limited APIs"
)

// Get returns the application identity. The identity is compiled in, so the
// binary behaves the same inside and outside a checkout.
func Get(_ context.Context) (*appidentity.Identity, error) {
	return &appidentity.Identity{
		Vendor:      Vendor,
		BinaryName:  BinaryName,
		ConfigName:  ConfigName,
		EnvPrefix:   EnvPrefix,
		Description: Description,
	}, nil
}
