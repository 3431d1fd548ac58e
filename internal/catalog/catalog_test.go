package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/cdsengine/internal/domain/cds"
	"github.com/ehr/cdsengine/internal/domain/lab"
	"github.com/ehr/cdsengine/internal/domain/orderset"
)

// fakeCatalogs stands in for the three catalog services, keyed the same way
// the real upserts key rows.
type fakeCatalogs struct {
	mu           sync.Mutex
	interactions map[uuid.UUID]*cds.DrugInteraction
	ranges       map[uuid.UUID]*lab.ReferenceRange
	sets         map[uuid.UUID]*orderset.OrderSet
	listErr      error
}

func newFakeCatalogs() *fakeCatalogs {
	return &fakeCatalogs{
		interactions: make(map[uuid.UUID]*cds.DrugInteraction),
		ranges:       make(map[uuid.UUID]*lab.ReferenceRange),
		sets:         make(map[uuid.UUID]*orderset.OrderSet),
	}
}

func seededCatalogs() *fakeCatalogs {
	f := newFakeCatalogs()
	ctx := context.Background()
	for _, d := range cds.ReferenceInteractions() {
		_ = f.UpsertInteraction(ctx, d)
	}
	for _, r := range lab.ReferenceRanges() {
		_ = f.UpsertReferenceRange(ctx, r)
	}
	for _, s := range orderset.ReferenceOrderSets() {
		_ = f.Import(ctx, s)
	}
	return f
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

func sortedValues[T any](m map[uuid.UUID]T) []T {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	out := make([]T, len(ids))
	for i, id := range ids {
		out[i] = m[id]
	}
	return out
}

func (f *fakeCatalogs) ListInteractions(_ context.Context, limit, offset int) ([]*cds.DrugInteraction, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	all := sortedValues(f.interactions)
	return page(all, limit, offset), len(all), nil
}

func (f *fakeCatalogs) UpsertInteraction(_ context.Context, d *cds.DrugInteraction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.ID = cds.InteractionKey(d.Drug1Name, d.Drug2Name)
	f.interactions[d.ID] = d
	return nil
}

func (f *fakeCatalogs) ListReferenceRanges(_ context.Context, _ string, limit, offset int) ([]*lab.ReferenceRange, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := sortedValues(f.ranges)
	return page(all, limit, offset), len(all), nil
}

func (f *fakeCatalogs) UpsertReferenceRange(_ context.Context, r *lab.ReferenceRange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = lab.RangeKey(r.TestCode, r.Gender, r.AgeMin)
	f.ranges[r.ID] = r
	return nil
}

func (f *fakeCatalogs) List(_ context.Context, _ string) ([]*orderset.OrderSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return sortedValues(f.sets), nil
}

func (f *fakeCatalogs) Import(_ context.Context, s *orderset.OrderSet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.sets[s.ID]; ok {
		s.UseCount = existing.UseCount
	}
	f.sets[s.ID] = s
	return nil
}

func newCatalogService(f *fakeCatalogs) *Service {
	svc := NewService(f, f, f, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC) }
	return svc
}

func TestExportImport_RoundTripThroughFile(t *testing.T) {
	ctx := context.Background()
	snap, err := newCatalogService(seededCatalogs()).Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, Counts{Interactions: 5, ReferenceRanges: 7, OrderSets: 5}, snap.Counts())

	path := filepath.Join(t.TempDir(), "snapshots", "catalog.db")
	require.NoError(t, WriteFile(path, snap))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, FormatVersion, loaded.Version)
	assert.True(t, snap.ExportedAt.Equal(loaded.ExportedAt))
	assert.Equal(t, snap.Counts(), loaded.Counts())

	target := newFakeCatalogs()
	svc := newCatalogService(target)
	for i := 0; i < 2; i++ {
		counts, err := svc.Import(ctx, loaded)
		require.NoError(t, err)
		assert.Equal(t, snap.Counts(), counts)
	}
	assert.Len(t, target.interactions, 5)
	assert.Len(t, target.ranges, 7)
	assert.Len(t, target.sets, 5)

	preop := target.sets[orderset.SetKey("preop-basic")]
	require.NotNil(t, preop)
	assert.Len(t, preop.Items, 6)
}

func TestWriteFile_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	snap, err := newCatalogService(seededCatalogs()).Export(context.Background())
	require.NoError(t, err)
	require.NoError(t, WriteFile(path, snap))

	empty := &Snapshot{Version: FormatVersion, ExportedAt: snap.ExportedAt}
	require.NoError(t, WriteFile(path, empty))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, loaded.Counts())
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "absent.db"))
	assert.Error(t, err)
}

func TestImport_RejectsNewerFormat(t *testing.T) {
	_, err := newCatalogService(newFakeCatalogs()).Import(context.Background(), &Snapshot{Version: FormatVersion + 1})
	assert.ErrorContains(t, err, "unsupported snapshot version")
}

func TestExport_PropagatesListErrors(t *testing.T) {
	f := seededCatalogs()
	f.listErr = errors.New("connection refused")
	_, err := newCatalogService(f).Export(context.Background())
	assert.ErrorContains(t, err, "export interactions")
}

func TestCollect_Pages(t *testing.T) {
	all := make([]int, 250)
	for i := range all {
		all[i] = i
	}
	calls := 0
	got, err := collect(func(limit, offset int) ([]int, int, error) {
		calls++
		return page(all, limit, offset), len(all), nil
	})
	require.NoError(t, err)
	assert.Equal(t, all, got)
	assert.Equal(t, 3, calls)
}

func TestObjectKey(t *testing.T) {
	snap := &Snapshot{ExportedAt: time.Unix(1767225600, 0)}
	assert.Equal(t, "catalog-1767225600.db", ObjectKey("", snap))
	assert.Equal(t, "prod/catalog-1767225600.db", ObjectKey("prod", snap))
}

// memS3 serves the handful of S3 calls S3Store makes.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memS3) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	respond := func(code int, body []byte, contentType string) *http.Response {
		return &http.Response{
			StatusCode:    code,
			Body:          io.NopCloser(bytes.NewReader(body)),
			ContentLength: int64(len(body)),
			Header: http.Header{
				"Content-Type":   {contentType},
				"Content-Length": {fmt.Sprintf("%d", len(body))},
			},
			Request: req,
		}
	}
	switch {
	case req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2":
		prefix := req.URL.Query().Get("prefix")
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		for k, v := range m.objects {
			if strings.HasPrefix(k, prefix) {
				fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(v))
			}
		}
		b.WriteString("</ListBucketResult>")
		return respond(http.StatusOK, []byte(b.String()), "application/xml"), nil
	case req.Method == http.MethodPut:
		data, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		m.objects[key] = data
		return respond(http.StatusOK, nil, "text/plain"), nil
	case req.Method == http.MethodGet:
		data, ok := m.objects[key]
		if !ok {
			return respond(http.StatusNotFound, []byte(`<Error><Code>NoSuchKey</Code></Error>`), "application/xml"), nil
		}
		return respond(http.StatusOK, data, "application/vnd.sqlite3"), nil
	}
	return respond(http.StatusMethodNotAllowed, nil, "text/plain"), nil
}

func newMemS3Store(t *testing.T) (*S3Store, *memS3) {
	t.Helper()
	backend := &memS3{objects: make(map[string][]byte)}
	store, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "catalogs",
		Endpoint:        "https://mock.s3.local",
		PathStyle:       true,
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		HTTPClient:      &http.Client{Transport: backend},
	})
	require.NoError(t, err)
	return store, backend
}

func TestS3Store_PublishFetchLatest(t *testing.T) {
	ctx := context.Background()
	store, backend := newMemS3Store(t)
	dir := t.TempDir()

	snap, err := newCatalogService(seededCatalogs()).Export(ctx)
	require.NoError(t, err)
	src := filepath.Join(dir, "out.db")
	require.NoError(t, WriteFile(src, snap))

	older := ObjectKey("prod", &Snapshot{ExportedAt: snap.ExportedAt.Add(-time.Hour)})
	backend.objects[older] = []byte("stale")
	key := ObjectKey("prod", snap)
	require.NoError(t, store.Publish(ctx, key, src))

	latest, err := store.Latest(ctx, "prod/")
	require.NoError(t, err)
	assert.Equal(t, key, latest)

	dst := filepath.Join(dir, "in.db")
	require.NoError(t, store.Fetch(ctx, latest, dst))
	loaded, err := ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, snap.Counts(), loaded.Counts())
}

func TestS3Store_LatestEmpty(t *testing.T) {
	store, _ := newMemS3Store(t)
	_, err := store.Latest(context.Background(), "prod/")
	assert.ErrorContains(t, err, "no snapshots")
}

func TestNewS3Store_RequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Config{})
	assert.Error(t, err)
}
