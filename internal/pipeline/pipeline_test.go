package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/carnamapa/carnamapa/internal/config"
	"github.com/carnamapa/carnamapa/internal/model"
	"github.com/carnamapa/carnamapa/internal/resilience"
	"github.com/carnamapa/carnamapa/internal/store"
	"github.com/carnamapa/carnamapa/pkg/blocosderua"
	"github.com/carnamapa/carnamapa/pkg/geocode"
)

type fakeProvider struct {
	name  string
	calls atomic.Int32
	res   geocode.Result
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Geocode(_ context.Context, _ geocode.Query) geocode.Result {
	f.calls.Add(1)
	r := f.res
	r.Provider = f.name
	return r
}

type passGate struct{}

func (passGate) Acquire(context.Context) error { return nil }

func (passGate) Release() {}

func salvadorCity() config.City {
	return config.City{Slug: "salvador", Name: "Salvador", ListingPath: "/salvador/programacao-carnaval"}
}

// newTestSite serves one listing page with two events.
func newTestSite(t *testing.T) *httptest.Server {
	t.Helper()
	event := func(name, start, street string) string {
		return fmt.Sprintf(`<html><head><script type="application/ld+json">
{"name": %q, "startDate": %q,
 "location": {"address": {"streetAddress": %q, "addressRegion": "Centro"}},
 "offers": {"price": "0"}}
</script></head><body></body></html>`, name, start, street)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/salvador/programacao-carnaval", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html><body>
<a class="card-programacao" href="/programacao/bloco-um-ssa/">Um</a>
<a class="card-programacao" href="/programacao/bloco-dois-ssa/">Dois</a>
</body></html>`)
	})
	mux.HandleFunc("/programacao/bloco-um-ssa/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, event("Bloco Um", "2026-02-14T09:00-03:00", "Rua Chile, 10"))
	})
	mux.HandleFunc("/programacao/bloco-dois-ssa/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, event("Bloco Dois", "2026-02-15T16:00-03:00", ""))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(t *testing.T, siteURL string, free, paid geocode.Provider) (*Pipeline, string) {
	t.Helper()
	dir := t.TempDir()
	cache, err := geocode.NewCache(filepath.Join(dir, "cache.json"))
	require.NoError(t, err)

	var paidGate geocode.Gate
	if paid != nil {
		paidGate = passGate{}
	}
	p := &Pipeline{
		site: blocosderua.New("carnamapa-test",
			blocosderua.WithBaseURL(siteURL),
			blocosderua.WithRetry(resilience.RetryConfig{MaxAttempts: 1})),
		chain:        geocode.NewChain(free, passGate{}, paid, paidGate, cache),
		store:        store.New(filepath.Join(dir, "output")),
		reportPath:   filepath.Join(dir, "report.json"),
		eventWorkers: 3,
		geoSlots:     semaphore.NewWeighted(4),
	}
	return p, dir
}

func TestPipeline_Run_EndToEnd(t *testing.T) {
	srv := newTestSite(t)
	free := &fakeProvider{name: "nominatim", res: geocode.Result{Kind: geocode.KindMatch, Lon: -38.51, Lat: -12.97}}
	p, dir := newTestPipeline(t, srv.URL, free, nil)

	report, err := p.Run(context.Background(), Options{Cities: []config.City{salvadorCity()}})
	require.NoError(t, err)

	assert.Equal(t, "scrape", report.Mode)
	assert.Equal(t, 1, report.Totals.Cities)
	assert.Zero(t, report.Totals.Failures)
	assert.Equal(t, 2, report.Totals.Found)
	assert.Equal(t, 2, report.Totals.New)
	assert.Equal(t, 2, report.Totals.Geocoded)
	assert.Zero(t, report.Totals.Unresolved)

	col, err := p.store.Load("salvador")
	require.NoError(t, err)
	require.NotNil(t, col)
	require.Len(t, col.Features, 2)
	for _, e := range col.Features {
		assert.True(t, e.HasCoordinates())
		assert.False(t, e.NeedsGeocoding)
	}

	_, err = os.Stat(filepath.Join(dir, "report.json"))
	assert.NoError(t, err, "run report is written")
}

func TestPipeline_Run_BrokenEventPageCountedInReport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/salvador/programacao-carnaval", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `<html><body>
<a class="card-programacao" href="/programacao/bloco-um-ssa/">Um</a>
<a class="card-programacao" href="/programacao/bloco-dois-ssa/">Dois</a>
<a class="card-programacao" href="/programacao/bloco-tres-ssa/">Tres</a>
</body></html>`)
	})
	page := func(name string) string {
		return fmt.Sprintf(`<html><head><script type="application/ld+json">
{"name": %q, "startDate": "2026-02-14T09:00-03:00",
 "location": {"address": {"streetAddress": "Rua Chile, 10", "addressRegion": "Centro"}},
 "offers": {"price": "0"}}
</script></head><body></body></html>`, name)
	}
	mux.HandleFunc("/programacao/bloco-um-ssa/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, page("Bloco Um"))
	})
	mux.HandleFunc("/programacao/bloco-dois-ssa/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, page("Bloco Dois"))
	})
	mux.HandleFunc("/programacao/bloco-tres-ssa/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	free := &fakeProvider{name: "nominatim", res: geocode.Result{Kind: geocode.KindMatch, Lon: -38.51, Lat: -12.97}}
	p, _ := newTestPipeline(t, srv.URL, free, nil)

	report, err := p.Run(context.Background(), Options{Cities: []config.City{salvadorCity()}})
	require.NoError(t, err)

	require.Len(t, report.Cities, 1)
	assert.Equal(t, 3, report.Cities[0].Found)
	assert.Equal(t, 2, report.Cities[0].New)
	assert.Equal(t, 1, report.Cities[0].Errors, "the broken page shows up in the city stats")
	assert.Equal(t, 1, report.Totals.Errors)
	assert.Zero(t, report.Totals.Failures, "one bad event page does not fail the city")

	col, err := p.store.Load("salvador")
	require.NoError(t, err)
	require.NotNil(t, col)
	assert.Len(t, col.Features, 2, "the other events are still persisted")
}

func TestPipeline_Run_SecondRunSkipsResolved(t *testing.T) {
	srv := newTestSite(t)
	free := &fakeProvider{name: "nominatim", res: geocode.Result{Kind: geocode.KindMatch, Lon: -38.51, Lat: -12.97}}
	p, _ := newTestPipeline(t, srv.URL, free, nil)

	_, err := p.Run(context.Background(), Options{Cities: []config.City{salvadorCity()}})
	require.NoError(t, err)

	report, err := p.Run(context.Background(), Options{Cities: []config.City{salvadorCity()}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Totals.Skipped)
	assert.Zero(t, report.Totals.New)

	col, err := p.store.Load("salvador")
	require.NoError(t, err)
	assert.Len(t, col.Features, 2, "skipped events stay in the output file")
}

func TestPipeline_Run_ForceRefreshRescrapesEverything(t *testing.T) {
	srv := newTestSite(t)
	free := &fakeProvider{name: "nominatim", res: geocode.Result{Kind: geocode.KindMatch, Lon: -38.51, Lat: -12.97}}
	p, _ := newTestPipeline(t, srv.URL, free, nil)

	_, err := p.Run(context.Background(), Options{Cities: []config.City{salvadorCity()}})
	require.NoError(t, err)

	report, err := p.Run(context.Background(), Options{Cities: []config.City{salvadorCity()}, ForceRefresh: true})
	require.NoError(t, err)
	assert.Zero(t, report.Totals.Skipped)
	assert.Equal(t, 2, report.Totals.New)
}

func TestPipeline_Run_UnresolvedKeptForRetry(t *testing.T) {
	srv := newTestSite(t)
	free := &fakeProvider{name: "nominatim", res: geocode.Result{Kind: geocode.KindNoMatch}}
	p, _ := newTestPipeline(t, srv.URL, free, nil)

	report, err := p.Run(context.Background(), Options{Cities: []config.City{salvadorCity()}})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Totals.Unresolved)
	require.Len(t, report.Cities, 1)
	assert.Equal(t, []string{"bloco-dois-ssa", "bloco-um-ssa"}, report.Cities[0].UnresolvedIDs)

	col, err := p.store.Load("salvador")
	require.NoError(t, err)
	for _, e := range col.Features {
		assert.False(t, e.HasCoordinates())
		assert.True(t, e.NeedsGeocoding)
		assert.Equal(t, "Centro, Salvador, Brazil", e.GeocodingQuery)
	}
}

func TestPipeline_Run_DryRunWritesNothing(t *testing.T) {
	srv := newTestSite(t)
	free := &fakeProvider{name: "nominatim", res: geocode.Result{Kind: geocode.KindMatch, Lon: -38.51, Lat: -12.97}}
	p, dir := newTestPipeline(t, srv.URL, free, nil)

	report, err := p.Run(context.Background(), Options{Cities: []config.City{salvadorCity()}, DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 2, report.Totals.Geocoded, "dry run still geocodes")

	col, err := p.store.Load("salvador")
	require.NoError(t, err)
	assert.Nil(t, col)
	_, err = os.Stat(filepath.Join(dir, "report.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestPipeline_Run_CityFailureIsolated(t *testing.T) {
	srv := newTestSite(t)
	free := &fakeProvider{name: "nominatim", res: geocode.Result{Kind: geocode.KindMatch, Lon: -38.51, Lat: -12.97}}
	p, _ := newTestPipeline(t, srv.URL, free, nil)

	broken := config.City{Slug: "fortaleza", Name: "Fortaleza", ListingPath: "/fortaleza/nao-existe"}
	report, err := p.Run(context.Background(), Options{Cities: []config.City{broken, salvadorCity()}})
	require.NoError(t, err, "one failed city must not abort the run")

	assert.Equal(t, 2, report.Totals.Cities)
	assert.Equal(t, 1, report.Totals.Failures)
	assert.Equal(t, 2, report.Totals.Geocoded, "healthy sibling completed")
}

func TestPipeline_RetryFailed_UsesPaidTier(t *testing.T) {
	free := &fakeProvider{name: "nominatim", res: geocode.Result{Kind: geocode.KindMatch, Lon: -38.51, Lat: -12.97}}
	paid := &fakeProvider{name: "google", res: geocode.Result{Kind: geocode.KindMatch, Lon: -38.5014, Lat: -12.9714}}
	p, _ := newTestPipeline(t, "http://127.0.0.1:0", free, paid)

	pending := &model.Event{ID: "bloco-pendente", Name: "Bloco Pendente", City: "Salvador", Neighborhood: "Centro", IsFree: true}
	pending.MarkUnresolved("Centro, Salvador, Brazil")
	resolved := &model.Event{ID: "bloco-ok", Name: "Bloco OK", City: "Salvador", Neighborhood: "Centro", IsFree: true}
	resolved.SetCoordinates(-38.51, -12.97)
	require.NoError(t, p.store.Save("Salvador", "salvador", []*model.Event{pending, resolved}))

	report, err := p.RetryFailed(context.Background(), Options{Cities: []config.City{salvadorCity()}})
	require.NoError(t, err)

	assert.Equal(t, "retry", report.Mode)
	assert.Equal(t, 2, report.Totals.Found)
	assert.Equal(t, 1, report.Totals.Geocoded)
	assert.Zero(t, free.calls.Load(), "retry goes straight to the paid tier")
	assert.Equal(t, int32(1), paid.calls.Load())

	col, err := p.store.Load("salvador")
	require.NoError(t, err)
	for _, e := range col.Features {
		assert.True(t, e.HasCoordinates())
	}
}

func TestPipeline_RetryFailed_NoFileIsNoop(t *testing.T) {
	free := &fakeProvider{name: "nominatim", res: geocode.Result{Kind: geocode.KindMatch, Lon: -38.51, Lat: -12.97}}
	p, _ := newTestPipeline(t, "http://127.0.0.1:0", free, nil)

	report, err := p.RetryFailed(context.Background(), Options{Cities: []config.City{salvadorCity()}})
	require.NoError(t, err)
	assert.Zero(t, report.Totals.Found)
	assert.Zero(t, report.Totals.Failures)
}
