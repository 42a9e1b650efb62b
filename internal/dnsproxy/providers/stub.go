package providers

import (
	"context"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/dnsproxy"
	"github.com/temps-sh/temps-core/internal/model"
)

// stubProvider registers a provider kind so it shows up in Kinds() without
// a working implementation behind it. Every operation fails validation.
type stubProvider struct {
	kind string
}

func init() {
	_ = dnsproxy.RegisterProvider(model.DnsRoute53, func(map[string]string) (dnsproxy.Provider, error) {
		return stubProvider{kind: string(model.DnsRoute53)}, nil
	})
	_ = dnsproxy.RegisterProvider(model.DnsNamecheap, func(map[string]string) (dnsproxy.Provider, error) {
		return stubProvider{kind: string(model.DnsNamecheap)}, nil
	})
}

func (s stubProvider) Kind() string { return s.kind }

func (s stubProvider) Capabilities() dnsproxy.Capabilities { return dnsproxy.Capabilities{} }

func (s stubProvider) err() error {
	return apperr.Validationf("dnsproxy: provider %s is registered but not yet implemented", s.kind)
}

func (s stubProvider) TestConnection(ctx context.Context) (bool, error) { return false, s.err() }

func (s stubProvider) ListZones(ctx context.Context) ([]dnsproxy.Zone, error) { return nil, s.err() }

func (s stubProvider) GetZone(ctx context.Context, domain string) (*dnsproxy.Zone, error) {
	return nil, s.err()
}

func (s stubProvider) ListRecords(ctx context.Context, domain string) ([]dnsproxy.Record, error) {
	return nil, s.err()
}

func (s stubProvider) GetRecord(ctx context.Context, domain, name string, rt dnsproxy.RecordType) (*dnsproxy.Record, error) {
	return nil, s.err()
}

func (s stubProvider) CreateRecord(ctx context.Context, domain string, req dnsproxy.RecordRequest) (dnsproxy.Record, error) {
	return dnsproxy.Record{}, s.err()
}

func (s stubProvider) UpdateRecord(ctx context.Context, domain, recordID string, req dnsproxy.RecordRequest) (dnsproxy.Record, error) {
	return dnsproxy.Record{}, s.err()
}

func (s stubProvider) DeleteRecord(ctx context.Context, domain, recordID string) error {
	return s.err()
}
