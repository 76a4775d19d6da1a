//go:build !linux

package epd

import (
	"context"
	"fmt"
)

// Driver is a stub on non-Linux platforms so the module always builds; the
// real SPI driver lives in epd_linux.go.
type Driver struct{}

// Init always fails off-target.
func Init(_ context.Context) (*Driver, error) {
	return nil, fmt.Errorf("epd: display hardware is only supported on linux")
}

func (d *Driver) Close() error { return nil }

func (d *Driver) Clear(_ context.Context) error {
	return fmt.Errorf("epd: not supported on this platform")
}

func (d *Driver) Display(_ context.Context, _, _ []byte) error {
	return fmt.Errorf("epd: not supported on this platform")
}

func (d *Driver) Sleep() error { return nil }
