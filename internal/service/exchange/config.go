package exchange

import (
	"net/url"
	"strings"
	"time"

	"PerpGate/internal/domain/errs"
)

type Config struct {
	BaseURL          string        `yaml:"base_url" default:"https://api-futures.kucoin.com"`
	AllowedEndpoints []string      `yaml:"allowed_endpoints" default:"[\"https://api-futures.kucoin.com\"]"`
	APIKey           string        `yaml:"api_key"`
	APISecret        string        `yaml:"api_secret"`
	APIPassphrase    string        `yaml:"api_passphrase"`
	MarginCurrency   string        `yaml:"margin_currency" default:"USDT"`
	Timeout          time.Duration `yaml:"timeout" default:"10s"`

	// PaperBalance seeds the paper ledger wallet.
	PaperBalance float64 `yaml:"paper_balance" default:"10000" validate:"gt=0"`
}

// EndpointAllowed reports whether base matches an allow-list entry by scheme and host.
func (c Config) EndpointAllowed() bool {
	base, err := url.Parse(strings.TrimRight(c.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return false
	}
	for _, a := range c.AllowedEndpoints {
		u, err := url.Parse(strings.TrimRight(a, "/"))
		if err != nil {
			continue
		}
		if strings.EqualFold(u.Scheme, base.Scheme) && strings.EqualFold(u.Host, base.Host) {
			return true
		}
	}
	return false
}

// CheckLive returns the configuration error that would stop a live client from starting.
func (c Config) CheckLive() error {
	if c.APIKey == "" || c.APISecret == "" || c.APIPassphrase == "" {
		return errs.ErrMissingCredentials
	}
	if !c.EndpointAllowed() {
		return errs.Wrap(errs.KindConfiguration, c.BaseURL, errs.ErrDisallowedEndpoint)
	}
	return nil
}
