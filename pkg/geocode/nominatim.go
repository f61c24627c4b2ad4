package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/carnamapa/carnamapa/internal/resilience"
)

const nominatimSearchURL = "https://nominatim.openstreetmap.org/search"

// nominatimPlace is one entry in the JSON array returned by the Nominatim
// search API. Coordinates arrive as strings.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Nominatim is the free OpenStreetMap geocoder. Its usage policy allows one
// request per second, enforced by the chain's interval gate rather than here.
type Nominatim struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	retry      resilience.RetryConfig
}

// NominatimOption configures the Nominatim provider.
type NominatimOption func(*Nominatim)

// WithNominatimHTTPClient sets a custom HTTP client.
func WithNominatimHTTPClient(hc *http.Client) NominatimOption {
	return func(n *Nominatim) {
		n.httpClient = hc
	}
}

// WithNominatimBaseURL overrides the search endpoint, e.g. for a self-hosted
// instance.
func WithNominatimBaseURL(u string) NominatimOption {
	return func(n *Nominatim) {
		n.baseURL = u
	}
}

// NewNominatim creates the free provider. userAgent identifies the caller as
// the Nominatim usage policy requires.
func NewNominatim(userAgent string, opts ...NominatimOption) *Nominatim {
	n := &Nominatim{
		baseURL:    nominatimSearchURL,
		userAgent:  userAgent,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name implements Provider.
func (n *Nominatim) Name() string { return "nominatim" }

// Geocode resolves a query against the Nominatim search API. Results are
// biased to Brazil via countrycodes.
func (n *Nominatim) Geocode(ctx context.Context, q Query) Result {
	var places []nominatimPlace
	err := resilience.Do(ctx, n.retry, func(ctx context.Context) error {
		var callErr error
		places, callErr = n.search(ctx, q.Text)
		return callErr
	})
	if err != nil {
		return failure(n.Name(), err)
	}
	if len(places) == 0 {
		return Result{Kind: KindNoMatch, Provider: n.Name(), At: time.Now()}
	}

	lon, lonErr := strconv.ParseFloat(places[0].Lon, 64)
	lat, latErr := strconv.ParseFloat(places[0].Lat, 64)
	if lonErr != nil || latErr != nil {
		return Result{
			Kind:     KindPermanent,
			Provider: n.Name(),
			Detail:   "nominatim returned non-numeric coordinates",
			At:       time.Now(),
		}
	}
	return Result{
		Kind:     KindMatch,
		Lon:      lon,
		Lat:      lat,
		Provider: n.Name(),
		Detail:   places[0].DisplayName,
		At:       time.Now(),
	}
}

func (n *Nominatim) search(ctx context.Context, text string) ([]nominatimPlace, error) {
	params := url.Values{
		"q":            {text},
		"format":       {"json"},
		"limit":        {"1"},
		"countrycodes": {"br"},
	}

	reqURL := n.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim build request")
	}
	req.Header.Set("User-Agent", n.userAgent)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "geocode: nominatim request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: nominatim returned status %d", resp.StatusCode)
		if resilience.RetryableStatus(resp.StatusCode) {
			return nil, resilience.Transient(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "geocode: nominatim read body"))
	}

	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}
	return places, nil
}

// failure converts a provider call error into a tagged result.
func failure(provider string, err error) Result {
	kind := KindPermanent
	if resilience.IsTransient(err) {
		kind = KindTransient
	}
	return Result{
		Kind:     kind,
		Provider: provider,
		Detail:   eris.ToString(err, false),
		At:       time.Now(),
	}
}
