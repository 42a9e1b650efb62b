package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/temps-sh/temps-core/internal/apperr"
	"github.com/temps-sh/temps-core/internal/dnsproxy"
	"github.com/temps-sh/temps-core/internal/model"
)

const digitalOceanBaseURL = "https://api.digitalocean.com/v2"

// DigitalOceanProvider manages records through the DigitalOcean domains API
// using a Personal Access Token, grounded on digitalocean.rs.
type DigitalOceanProvider struct {
	apiToken string
	http     *http.Client
	baseURL  string
}

func init() {
	_ = dnsproxy.RegisterProvider(model.DnsDigitalOcean, func(creds map[string]string) (dnsproxy.Provider, error) {
		token := creds["api_token"]
		if token == "" {
			return nil, apperr.Validationf("digitalocean: api_token credential is required")
		}
		return NewDigitalOceanProvider(token), nil
	})
}

// NewDigitalOceanProvider builds a DigitalOcean provider bound to a token.
func NewDigitalOceanProvider(apiToken string) *DigitalOceanProvider {
	return &DigitalOceanProvider{apiToken: apiToken, http: &http.Client{Timeout: 30 * time.Second}, baseURL: digitalOceanBaseURL}
}

func (p *DigitalOceanProvider) Kind() string { return string(model.DnsDigitalOcean) }

func (p *DigitalOceanProvider) Capabilities() dnsproxy.Capabilities {
	return dnsproxy.Capabilities{
		A: true, AAAA: true, CNAME: true, TXT: true, MX: true, NS: true, SRV: true, CAA: true,
		// PTR is not commonly exposed through the domain-records API
		// (digitalocean.rs: "Not commonly used").
	}
}

type doErrorResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (p *DigitalOceanProvider) request(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		blob, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(apperr.Internal, err, "digitalocean: marshal request failed")
		}
		reader = bytes.NewReader(blob)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return apperr.Wrap(apperr.Internal, err, "digitalocean: build request failed")
	}
	req.Header.Set("Authorization", "Bearer "+p.apiToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.External, err, "digitalocean: request failed")
	}
	defer resp.Body.Close()

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.External, err, "digitalocean: read response failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr doErrorResponse
		if json.Unmarshal(blob, &apiErr) == nil && apiErr.Message != "" {
			return apperr.New(apperr.External, fmt.Sprintf("digitalocean API error (%s): %s", apiErr.ID, apiErr.Message), nil)
		}
		return apperr.New(apperr.External, fmt.Sprintf("digitalocean API returned status %d", resp.StatusCode), nil)
	}
	if out == nil || len(blob) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return apperr.Wrap(apperr.External, err, "digitalocean: decode response failed")
	}
	return nil
}

type doDomain struct {
	Name string `json:"name"`
	TTL  uint32 `json:"ttl"`
}

type domainsResponse struct {
	Domains []doDomain `json:"domains"`
}

func (p *DigitalOceanProvider) TestConnection(ctx context.Context) (bool, error) {
	var out domainsResponse
	if err := p.request(ctx, http.MethodGet, "/domains?per_page=1", nil, &out); err != nil {
		return false, err
	}
	return true, nil
}

func (p *DigitalOceanProvider) ListZones(ctx context.Context) ([]dnsproxy.Zone, error) {
	var out domainsResponse
	if err := p.request(ctx, http.MethodGet, "/domains", nil, &out); err != nil {
		return nil, err
	}
	zones := make([]dnsproxy.Zone, 0, len(out.Domains))
	for _, d := range out.Domains {
		zones = append(zones, dnsproxy.Zone{ID: d.Name, Name: d.Name, Status: "active"})
	}
	return zones, nil
}

func (p *DigitalOceanProvider) GetZone(ctx context.Context, domain string) (*dnsproxy.Zone, error) {
	var out struct {
		Domain doDomain `json:"domain"`
	}
	found, err := p.requestOptional(ctx, http.MethodGet, "/domains/"+domain, nil, &out)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &dnsproxy.Zone{ID: out.Domain.Name, Name: out.Domain.Name, Status: "active"}, nil
}

// requestOptional behaves like request but reports a 404 as (false, nil)
// instead of an error, for lookups where "not found" is a valid outcome.
func (p *DigitalOceanProvider) requestOptional(ctx context.Context, method, path string, body any, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, nil)
	if err != nil {
		return false, apperr.Wrap(apperr.Internal, err, "digitalocean: build request failed")
	}
	req.Header.Set("Authorization", "Bearer "+p.apiToken)

	resp, err := p.http.Do(req)
	if err != nil {
		return false, apperr.Wrap(apperr.External, err, "digitalocean: request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, apperr.Wrap(apperr.External, err, "digitalocean: read response failed")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, apperr.New(apperr.External, fmt.Sprintf("digitalocean API returned status %d", resp.StatusCode), nil)
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return false, apperr.Wrap(apperr.External, err, "digitalocean: decode response failed")
	}
	return true, nil
}

type doRecord struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Data     string `json:"data"`
	Priority *int   `json:"priority,omitempty"`
	Port     *int   `json:"port,omitempty"`
	Weight   *int   `json:"weight,omitempty"`
	TTL      uint32 `json:"ttl"`
	Flags    *int   `json:"flags,omitempty"`
	Tag      *string `json:"tag,omitempty"`
}

type domainRecordsResponse struct {
	DomainRecords []doRecord `json:"domain_records"`
}

type domainRecordResponse struct {
	DomainRecord doRecord `json:"domain_record"`
}

func (p *DigitalOceanProvider) ListRecords(ctx context.Context, domain string) ([]dnsproxy.Record, error) {
	var out domainRecordsResponse
	if err := p.request(ctx, http.MethodGet, fmt.Sprintf("/domains/%s/records", domain), nil, &out); err != nil {
		return nil, err
	}
	records := make([]dnsproxy.Record, 0, len(out.DomainRecords))
	for _, r := range out.DomainRecords {
		if rec, ok := convertDORecord(r, domain); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (p *DigitalOceanProvider) GetRecord(ctx context.Context, domain, name string, rt dnsproxy.RecordType) (*dnsproxy.Record, error) {
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

func (p *DigitalOceanProvider) CreateRecord(ctx context.Context, domain string, req dnsproxy.RecordRequest) (dnsproxy.Record, error) {
	payload, err := toDOPayload(req)
	if err != nil {
		return dnsproxy.Record{}, err
	}
	var out domainRecordResponse
	if err := p.request(ctx, http.MethodPost, fmt.Sprintf("/domains/%s/records", domain), payload, &out); err != nil {
		return dnsproxy.Record{}, err
	}
	rec, _ := convertDORecord(out.DomainRecord, domain)
	return rec, nil
}

func (p *DigitalOceanProvider) UpdateRecord(ctx context.Context, domain, recordID string, req dnsproxy.RecordRequest) (dnsproxy.Record, error) {
	payload, err := toDOPayload(req)
	if err != nil {
		return dnsproxy.Record{}, err
	}
	var out domainRecordResponse
	if err := p.request(ctx, http.MethodPut, fmt.Sprintf("/domains/%s/records/%s", domain, recordID), payload, &out); err != nil {
		return dnsproxy.Record{}, err
	}
	rec, _ := convertDORecord(out.DomainRecord, domain)
	return rec, nil
}

func (p *DigitalOceanProvider) DeleteRecord(ctx context.Context, domain, recordID string) error {
	return p.request(ctx, http.MethodDelete, fmt.Sprintf("/domains/%s/records/%s", domain, recordID), nil, nil)
}

type doCreateRecordRequest struct {
	Type     string  `json:"type"`
	Name     string  `json:"name"`
	Data     string  `json:"data"`
	Priority *int    `json:"priority,omitempty"`
	Port     *int    `json:"port,omitempty"`
	Weight   *int    `json:"weight,omitempty"`
	TTL      uint32  `json:"ttl"`
	Flags    *int    `json:"flags,omitempty"`
	Tag      *string `json:"tag,omitempty"`
}

func toDOPayload(req dnsproxy.RecordRequest) (doCreateRecordRequest, error) {
	rec := doCreateRecordRequest{Type: string(req.Content.Type), Name: req.Name, TTL: req.TTL}
	if rec.TTL == 0 {
		rec.TTL = 3600
	}
	switch req.Content.Type {
	case dnsproxy.RecordA, dnsproxy.RecordAAAA:
		rec.Data = req.Content.Address
	case dnsproxy.RecordCNAME, dnsproxy.RecordNS:
		rec.Data = req.Content.Target
	case dnsproxy.RecordTXT:
		rec.Data = req.Content.Text
	case dnsproxy.RecordMX:
		rec.Data = req.Content.Target
		p := int(req.Content.Priority)
		rec.Priority = &p
	case dnsproxy.RecordSRV:
		rec.Data = req.Content.Target
		pr, pt, w := int(req.Content.Priority), int(req.Content.Port), int(req.Content.Weight)
		rec.Priority, rec.Port, rec.Weight = &pr, &pt, &w
	case dnsproxy.RecordCAA:
		rec.Data = req.Content.Value
		fl := int(req.Content.Flags)
		rec.Flags = &fl
		rec.Tag = &req.Content.Tag
	default:
		return doCreateRecordRequest{}, apperr.Validationf("digitalocean: record type %s is not supported", req.Content.Type)
	}
	return rec, nil
}

func convertDORecord(r doRecord, domain string) (dnsproxy.Record, bool) {
	rt := dnsproxy.RecordType(r.Type)
	content := dnsproxy.RecordContent{Type: rt}
	switch rt {
	case dnsproxy.RecordA, dnsproxy.RecordAAAA:
		content.Address = r.Data
	case dnsproxy.RecordCNAME, dnsproxy.RecordNS:
		content.Target = r.Data
	case dnsproxy.RecordTXT:
		content.Text = r.Data
	case dnsproxy.RecordMX:
		content.Target = r.Data
		if r.Priority != nil {
			content.Priority = uint16(*r.Priority)
		}
	case dnsproxy.RecordSRV:
		content.Target = r.Data
		if r.Priority != nil {
			content.Priority = uint16(*r.Priority)
		}
		if r.Port != nil {
			content.Port = uint16(*r.Port)
		}
		if r.Weight != nil {
			content.Weight = uint16(*r.Weight)
		}
	case dnsproxy.RecordCAA:
		content.Value = r.Data
		if r.Flags != nil {
			content.Flags = uint8(*r.Flags)
		}
		if r.Tag != nil {
			content.Tag = *r.Tag
		}
	default:
		return dnsproxy.Record{}, false
	}

	name := r.Name
	fqdn := domain
	if name != "@" {
		fqdn = name + "." + domain
	}
	return dnsproxy.Record{
		ID: strconv.FormatInt(r.ID, 10), Zone: domain, Name: name, FQDN: fqdn,
		Content: content, TTL: r.TTL,
	}, true
}
