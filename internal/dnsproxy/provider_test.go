package dnsproxy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeProvider is an in-memory Provider used to exercise SetRecord/RemoveRecord
// without a real network dependency.
type fakeProvider struct {
	kind    string
	caps    Capabilities
	records map[string]Record
	nextID  int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		kind:    "fake",
		caps:    Capabilities{A: true, CNAME: true, TXT: true},
		records: map[string]Record{},
	}
}

func (f *fakeProvider) key(name string, rt RecordType) string { return name + "|" + string(rt) }

func (f *fakeProvider) Kind() string               { return f.kind }
func (f *fakeProvider) Capabilities() Capabilities { return f.caps }

func (f *fakeProvider) TestConnection(ctx context.Context) (bool, error) { return true, nil }

func (f *fakeProvider) ListZones(ctx context.Context) ([]Zone, error) {
	return []Zone{{ID: "z1", Name: "example.com", Status: "active"}}, nil
}

func (f *fakeProvider) GetZone(ctx context.Context, domain string) (*Zone, error) {
	return &Zone{ID: "z1", Name: domain, Status: "active"}, nil
}

func (f *fakeProvider) ListRecords(ctx context.Context, domain string) ([]Record, error) {
	out := make([]Record, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeProvider) GetRecord(ctx context.Context, domain, name string, rt RecordType) (*Record, error) {
	r, ok := f.records[f.key(name, rt)]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (f *fakeProvider) CreateRecord(ctx context.Context, domain string, req RecordRequest) (Record, error) {
	f.nextID++
	rec := Record{ID: string(rune('a' + f.nextID)), Zone: domain, Name: req.Name, Content: req.Content, TTL: req.TTL, Proxied: req.Proxied}
	f.records[f.key(req.Name, req.Content.Type)] = rec
	return rec, nil
}

func (f *fakeProvider) UpdateRecord(ctx context.Context, domain, recordID string, req RecordRequest) (Record, error) {
	rec := Record{ID: recordID, Zone: domain, Name: req.Name, Content: req.Content, TTL: req.TTL, Proxied: req.Proxied}
	f.records[f.key(req.Name, req.Content.Type)] = rec
	return rec, nil
}

func (f *fakeProvider) DeleteRecord(ctx context.Context, domain, recordID string) error {
	for k, r := range f.records {
		if r.ID == recordID {
			delete(f.records, k)
			return nil
		}
	}
	return nil
}

func TestCapabilitiesSupports(t *testing.T) {
	caps := Capabilities{A: true, CNAME: true}
	require.True(t, caps.Supports(RecordA))
	require.True(t, caps.Supports(RecordCNAME))
	require.False(t, caps.Supports(RecordMX))
	require.False(t, caps.Supports(RecordCAA))
}

func TestSetRecordCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()

	req := RecordRequest{Name: "www", Content: RecordContent{Type: RecordA, Address: "1.2.3.4"}, TTL: 300}
	created, err := SetRecord(ctx, p, "example.com", req)
	require.NoError(t, err)
	require.Equal(t, "1.2.3.4", created.Content.Address)

	req.Content.Address = "5.6.7.8"
	updated, err := SetRecord(ctx, p, "example.com", req)
	require.NoError(t, err)
	require.Equal(t, created.ID, updated.ID, "set_record must update the existing record, not duplicate it")
	require.Equal(t, "5.6.7.8", updated.Content.Address)
}

func TestRemoveRecordIsNoopWhenAbsent(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	err := RemoveRecord(ctx, p, "example.com", "missing", RecordA)
	require.NoError(t, err)
}

func TestRemoveRecordDeletesExisting(t *testing.T) {
	ctx := context.Background()
	p := newFakeProvider()
	req := RecordRequest{Name: "www", Content: RecordContent{Type: RecordA, Address: "1.2.3.4"}}
	_, err := SetRecord(ctx, p, "example.com", req)
	require.NoError(t, err)

	err = RemoveRecord(ctx, p, "example.com", "www", RecordA)
	require.NoError(t, err)

	rec, err := p.GetRecord(ctx, "example.com", "www", RecordA)
	require.NoError(t, err)
	require.Nil(t, rec)
}
