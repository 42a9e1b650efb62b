package dnsproxy

import (
	"github.com/temps-sh/temps-core/internal/model"
	"github.com/temps-sh/temps-core/internal/registry"
)

// Constructor builds a provider from its decrypted credential map (§4.11
// "required_credentials" per kind, e.g. api_token for Cloudflare/DigitalOcean).
type Constructor func(credentials map[string]string) (Provider, error)

var providers = registry.New[Constructor]()

// RegisterProvider adds a provider constructor for a DNS provider kind.
func RegisterProvider(kind model.DnsProviderKind, ctor Constructor) error {
	return providers.Register(string(kind), ctor)
}

// LookupProvider finds a provider constructor by kind.
func LookupProvider(kind model.DnsProviderKind) (Constructor, bool) {
	return providers.Get(string(kind))
}

// Kinds lists every registered provider kind.
func Kinds() []string {
	return providers.Names()
}
