// Package dnsproxy implements DNS & Proxy Control (C11): reconciling the
// environment -> current-deployment upstream mapping and, where an
// environment carries custom DNS, pushing record changes through a
// provider-agnostic DnsProvider contract (§4.11).
package dnsproxy

import (
	"context"
)

// RecordType is one of the record kinds every provider advertises
// capabilities for (§4.11).
type RecordType string

const (
	RecordA     RecordType = "A"
	RecordAAAA  RecordType = "AAAA"
	RecordCNAME RecordType = "CNAME"
	RecordTXT   RecordType = "TXT"
	RecordMX    RecordType = "MX"
	RecordNS    RecordType = "NS"
	RecordSRV   RecordType = "SRV"
	RecordCAA   RecordType = "CAA"
	RecordPTR   RecordType = "PTR"
)

// RecordContent is the type-specific payload of a record. Only the fields
// relevant to Type are populated.
type RecordContent struct {
	Type     RecordType
	Address  string // A, AAAA
	Target   string // CNAME, NS, PTR
	Text     string // TXT
	Priority uint16 // MX, SRV
	Weight   uint16 // SRV
	Port     uint16 // SRV
	Flags    uint8  // CAA
	Tag      string // CAA
	Value    string // CAA
}

// Record is a single DNS record as returned by a provider.
type Record struct {
	ID      string
	Zone    string
	Name    string
	FQDN    string
	Content RecordContent
	TTL     uint32
	Proxied bool
}

// RecordRequest is the input to Create/Update/Set.
type RecordRequest struct {
	Name    string
	Content RecordContent
	TTL     uint32 // 0 means provider default/auto
	Proxied bool
}

// Zone is a domain managed by a provider.
type Zone struct {
	ID          string
	Name        string
	Status      string
	Nameservers []string
}

// Capabilities reports which record types and features a provider supports,
// so callers can fail fast on requests it cannot serve (§4.11).
type Capabilities struct {
	A, AAAA, CNAME, TXT, MX, NS, SRV, CAA bool
	Proxy, AutoSSL, Wildcard              bool
}

// Supports reports whether the capability set covers rt.
func (c Capabilities) Supports(rt RecordType) bool {
	switch rt {
	case RecordA:
		return c.A
	case RecordAAAA:
		return c.AAAA
	case RecordCNAME:
		return c.CNAME
	case RecordTXT:
		return c.TXT
	case RecordMX:
		return c.MX
	case RecordNS:
		return c.NS
	case RecordSRV:
		return c.SRV
	case RecordCAA:
		return c.CAA
	default:
		return false
	}
}

// Provider is the core DNS provider contract every driver implements,
// grounded on original_source/crates/temps-dns's DnsProvider trait.
type Provider interface {
	Kind() string
	Capabilities() Capabilities

	TestConnection(ctx context.Context) (bool, error)
	ListZones(ctx context.Context) ([]Zone, error)
	GetZone(ctx context.Context, domain string) (*Zone, error)

	ListRecords(ctx context.Context, domain string) ([]Record, error)
	GetRecord(ctx context.Context, domain, name string, rt RecordType) (*Record, error)
	CreateRecord(ctx context.Context, domain string, req RecordRequest) (Record, error)
	UpdateRecord(ctx context.Context, domain, recordID string, req RecordRequest) (Record, error)
	DeleteRecord(ctx context.Context, domain, recordID string) error
}

// SetRecord upserts req: updates the existing record for (name, type) if one
// exists, otherwise creates it. Mirrors the trait's default set_record.
func SetRecord(ctx context.Context, p Provider, domain string, req RecordRequest) (Record, error) {
	existing, err := p.GetRecord(ctx, domain, req.Name, req.Content.Type)
	if err != nil {
		return Record{}, err
	}
	if existing != nil {
		return p.UpdateRecord(ctx, domain, existing.ID, req)
	}
	return p.CreateRecord(ctx, domain, req)
}

// RemoveRecord deletes the record for (name, type) if one exists; a no-op
// otherwise. Mirrors the trait's default remove_record.
func RemoveRecord(ctx context.Context, p Provider, domain, name string, rt RecordType) error {
	existing, err := p.GetRecord(ctx, domain, name, rt)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	return p.DeleteRecord(ctx, domain, existing.ID)
}
