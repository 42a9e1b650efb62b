// Package providers holds the concrete dnsproxy.Provider implementations
// (§4.11), grounded on original_source/crates/temps-dns/src/providers.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/dnsproxy"
	"github.com/temps-sh/temps-core/internal/model"
)

const cloudflareBaseURL = "https://api.cloudflare.com/client/v4"

// CloudflareProvider manages records through the Cloudflare REST API using
// an API Token (Zone:DNS:Edit permission), mirroring cloudflare.rs.
type CloudflareProvider struct {
	apiToken  string
	accountID string
	http      *http.Client
	baseURL   string
}

func init() {
	_ = dnsproxy.RegisterProvider(model.DnsCloudflare, func(creds map[string]string) (dnsproxy.Provider, error) {
		token := creds["api_token"]
		if token == "" {
			return nil, apperr.Validationf("cloudflare: api_token credential is required")
		}
		return NewCloudflareProvider(token, creds["account_id"]), nil
	})
}

// NewCloudflareProvider builds a Cloudflare provider bound to an API token.
func NewCloudflareProvider(apiToken, accountID string) *CloudflareProvider {
	return &CloudflareProvider{
		apiToken:  apiToken,
		accountID: accountID,
		http:      &http.Client{Timeout: 15 * time.Second},
		baseURL:   cloudflareBaseURL,
	}
}

func (p *CloudflareProvider) Kind() string { return string(model.DnsCloudflare) }

func (p *CloudflareProvider) Capabilities() dnsproxy.Capabilities {
	return dnsproxy.Capabilities{
		A: true, AAAA: true, CNAME: true, TXT: true, MX: true, NS: true, SRV: true,
		Proxy: true, AutoSSL: true, Wildcard: true,
		// CAA is not exposed by the cloudflare crate's typed DnsContent; the
		// original provider falls back to rejecting it (cloudflare.rs).
	}
}

type cfResponse[T any] struct {
	Success bool            `json:"success"`
	Errors  []cfAPIError    `json:"errors"`
	Result  T               `json:"result"`
}

type cfAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *CloudflareProvider) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "cloudflare: marshal request failed")
		}
		reader = bytes.NewReader(blob)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "cloudflare: build request failed")
	}
	req.Header.Set("Authorization", "Bearer "+p.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.External, err, "cloudflare: request failed")
	}
	defer resp.Body.Close()

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.External, err, "cloudflare: read response failed")
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return apperr.Wrap(apperr.External, err, "cloudflare: decode response failed (status %d)", resp.StatusCode)
	}
	return nil
}

type cfZone struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Status      string   `json:"status"`
	NameServers []string `json:"name_servers"`
}

func (p *CloudflareProvider) TestConnection(ctx context.Context) (bool, error) {
	var out cfResponse[[]cfZone]
	if err := p.do(ctx, http.MethodGet, "/zones?per_page=1", nil, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

func (p *CloudflareProvider) ListZones(ctx context.Context) ([]dnsproxy.Zone, error) {
	var out cfResponse[[]cfZone]
	if err := p.do(ctx, http.MethodGet, "/zones", nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, cfError("list zones", out.Errors)
	}
	zones := make([]dnsproxy.Zone, 0, len(out.Result))
	for _, z := range out.Result {
		zones = append(zones, dnsproxy.Zone{ID: z.ID, Name: z.Name, Status: z.Status, Nameservers: z.NameServers})
	}
	return zones, nil
}

// extractBaseDomain returns the last two labels of domain, mirroring
// cloudflare.rs's zone lookup (it resolves the zone from the apex, not the
// full record FQDN).
func extractBaseDomain(domain string) string {
	parts := strings.Split(domain, ".")
	if len(parts) <= 2 {
		return domain
	}
	return strings.Join(parts[len(parts)-2:], ".")
}

func (p *CloudflareProvider) GetZone(ctx context.Context, domain string) (*dnsproxy.Zone, error) {
	base := extractBaseDomain(domain)
	var out cfResponse[[]cfZone]
	if err := p.do(ctx, http.MethodGet, "/zones?name="+base, nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, cfError("get zone", out.Errors)
	}
	if len(out.Result) == 0 {
		return nil, nil
	}
	z := out.Result[0]
	return &dnsproxy.Zone{ID: z.ID, Name: z.Name, Status: z.Status, Nameservers: z.NameServers}, nil
}

func (p *CloudflareProvider) zoneID(ctx context.Context, domain string) (string, error) {
	zone, err := p.GetZone(ctx, domain)
	if err != nil {
		return "", err
	}
	if zone == nil {
		return "", apperr.NotFoundf("cloudflare: zone not found for domain %s", domain)
	}
	return zone.ID, nil
}

type cfRecord struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	TTL      uint32 `json:"ttl"`
	Priority uint16 `json:"priority,omitempty"`
	Proxied  bool   `json:"proxied"`
}

func (p *CloudflareProvider) ListRecords(ctx context.Context, domain string) ([]dnsproxy.Record, error) {
	zoneID, err := p.zoneID(ctx, domain)
	if err != nil {
		return nil, err
	}
	var out cfResponse[[]cfRecord]
	if err := p.do(ctx, http.MethodGet, fmt.Sprintf("/zones/%s/dns_records", zoneID), nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, cfError("list records", out.Errors)
	}
	base := extractBaseDomain(domain)
	records := make([]dnsproxy.Record, 0, len(out.Result))
	for _, r := range out.Result {
		records = append(records, convertCFRecord(r, base))
	}
	return records, nil
}

func (p *CloudflareProvider) GetRecord(ctx context.Context, domain, name string, rt dnsproxy.RecordType) (*dnsproxy.Record, error) {
	records, err := p.ListRecords(ctx, domain)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if r.Name == name && r.Content.Type == rt {
			rec := r
			return &rec, nil
		}
	}
	return nil, nil
}

func (p *CloudflareProvider) CreateRecord(ctx context.Context, domain string, req dnsproxy.RecordRequest) (dnsproxy.Record, error) {
	zoneID, err := p.zoneID(ctx, domain)
	if err != nil {
		return dnsproxy.Record{}, err
	}
	payload, err := toCFPayload(req)
	if err != nil {
		return dnsproxy.Record{}, err
	}
	var out cfResponse[cfRecord]
	if err := p.do(ctx, http.MethodPost, fmt.Sprintf("/zones/%s/dns_records", zoneID), payload, &out); err != nil {
		return dnsproxy.Record{}, err
	}
	if !out.Success {
		return dnsproxy.Record{}, cfError("create record", out.Errors)
	}
	return convertCFRecord(out.Result, extractBaseDomain(domain)), nil
}

func (p *CloudflareProvider) UpdateRecord(ctx context.Context, domain, recordID string, req dnsproxy.RecordRequest) (dnsproxy.Record, error) {
	zoneID, err := p.zoneID(ctx, domain)
	if err != nil {
		return dnsproxy.Record{}, err
	}
	payload, err := toCFPayload(req)
	if err != nil {
		return dnsproxy.Record{}, err
	}
	var out cfResponse[cfRecord]
	if err := p.do(ctx, http.MethodPut, fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, recordID), payload, &out); err != nil {
		return dnsproxy.Record{}, err
	}
	if !out.Success {
		return dnsproxy.Record{}, cfError("update record", out.Errors)
	}
	return convertCFRecord(out.Result, extractBaseDomain(domain)), nil
}

func (p *CloudflareProvider) DeleteRecord(ctx context.Context, domain, recordID string) error {
	zoneID, err := p.zoneID(ctx, domain)
	if err != nil {
		return err
	}
	var out cfResponse[map[string]any]
	if err := p.do(ctx, http.MethodDelete, fmt.Sprintf("/zones/%s/dns_records/%s", zoneID, recordID), nil, &out); err != nil {
		return err
	}
	if !out.Success {
		return cfError("delete record", out.Errors)
	}
	return nil
}

func toCFPayload(req dnsproxy.RecordRequest) (cfRecord, error) {
	rec := cfRecord{Name: req.Name, TTL: req.TTL, Proxied: req.Proxied, Type: string(req.Content.Type)}
	if rec.TTL == 0 {
		rec.TTL = 1 // Cloudflare's "automatic" TTL sentinel
	}
	switch req.Content.Type {
	case dnsproxy.RecordA:
		rec.Content = req.Content.Address
	case dnsproxy.RecordAAAA:
		rec.Content = req.Content.Address
	case dnsproxy.RecordCNAME:
		rec.Content = req.Content.Target
	case dnsproxy.RecordTXT:
		rec.Content = req.Content.Text
	case dnsproxy.RecordMX:
		rec.Content = req.Content.Target
		rec.Priority = req.Content.Priority
	case dnsproxy.RecordNS:
		rec.Content = req.Content.Target
	case dnsproxy.RecordSRV:
		rec.Content = fmt.Sprintf("%d %d %d %s", req.Content.Priority, req.Content.Weight, req.Content.Port, req.Content.Target)
	default:
		return cfRecord{}, apperr.Validationf("cloudflare: record type %s is not supported via the Cloudflare API client", req.Content.Type)
	}
	return rec, nil
}

func convertCFRecord(r cfRecord, zoneName string) dnsproxy.Record {
	name := strings.TrimSuffix(r.Name, "."+zoneName)
	if r.Name == zoneName {
		name = "@"
	}
	content := dnsproxy.RecordContent{Type: dnsproxy.RecordType(r.Type)}
	switch dnsproxy.RecordType(r.Type) {
	case dnsproxy.RecordA, dnsproxy.RecordAAAA:
		content.Address = r.Content
	case dnsproxy.RecordCNAME, dnsproxy.RecordNS:
		content.Target = r.Content
	case dnsproxy.RecordTXT:
		content.Text = r.Content
	case dnsproxy.RecordMX:
		content.Target = r.Content
		content.Priority = r.Priority
	}
	return dnsproxy.Record{
		ID: r.ID, Zone: zoneName, Name: name, FQDN: r.Name,
		Content: content, TTL: r.TTL, Proxied: r.Proxied,
	}
}

func cfError(op string, errs []cfAPIError) error {
	if len(errs) == 0 {
		return apperr.New(apperr.External, fmt.Sprintf("cloudflare: %s failed", op), nil)
	}
	return apperr.New(apperr.External, fmt.Sprintf("cloudflare: %s failed: %s", op, errs[0].Message), nil)
}
