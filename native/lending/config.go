package lending

import (
	"fmt"
	"strings"

	"lendledger/crypto"
)

// Config captures the runtime configuration for the native lending module.
type Config struct {
	StableToken    string `toml:"StableToken" yaml:"stable_token"`
	CustodyAddress string `toml:"CustodyAddress" yaml:"custody_address"`
}

// Stable returns the configured stable token identifier.
func (c Config) Stable() Asset {
	return Asset(strings.TrimSpace(c.StableToken))
}

// Validate ensures the configuration names a usable stable token and a
// well-formed custody address.
func (c Config) Validate() error {
	stable := c.Stable()
	if stable.IsZero() {
		return fmt.Errorf("lending: stable token must be configured")
	}
	if strings.EqualFold(string(stable), string(NativeAsset)) {
		return fmt.Errorf("lending: stable token cannot be %q", NativeAsset)
	}
	if _, err := c.Custody(); err != nil {
		return err
	}
	return nil
}

// Custody decodes the custody address.
func (c Config) Custody() (crypto.Address, error) {
	raw := strings.TrimSpace(c.CustodyAddress)
	if raw == "" {
		return crypto.Address{}, fmt.Errorf("lending: custody address must be configured")
	}
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("lending: custody address: %w", err)
	}
	if addr.IsZero() {
		return crypto.Address{}, fmt.Errorf("lending: custody address must not be zero")
	}
	return addr, nil
}
