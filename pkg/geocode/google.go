package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/carnamapa/carnamapa/internal/resilience"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results []googleResult `json:"results"`
	Status  string         `json:"status"`
	Message string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
	FormattedAddress string `json:"formatted_address"`
}

// Google is the paid fallback geocoder. It is only consulted after the free
// provider has failed to produce a usable match.
type Google struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      resilience.RetryConfig
}

// GoogleOption configures the Google provider.
type GoogleOption func(*Google)

// WithGoogleHTTPClient sets a custom HTTP client.
func WithGoogleHTTPClient(hc *http.Client) GoogleOption {
	return func(g *Google) {
		g.httpClient = hc
	}
}

// WithGoogleBaseURL overrides the geocoding endpoint.
func WithGoogleBaseURL(u string) GoogleOption {
	return func(g *Google) {
		g.baseURL = u
	}
}

// NewGoogle creates the paid provider with the given API key.
func NewGoogle(apiKey string, opts ...GoogleOption) *Google {
	g := &Google{
		baseURL:    googleGeocodeURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name implements Provider.
func (g *Google) Name() string { return "google" }

// Configured reports whether an API key was supplied. An unconfigured
// provider is skipped by the chain rather than producing failures.
func (g *Google) Configured() bool { return g.apiKey != "" }

// Geocode resolves a query against the Google Geocoding API, biased to
// Brazil via the region parameter.
func (g *Google) Geocode(ctx context.Context, q Query) Result {
	if !g.Configured() {
		return Result{
			Kind:     KindPermanent,
			Provider: g.Name(),
			Detail:   "google api key not configured",
			At:       time.Now(),
		}
	}

	resp, err := resilience.DoVal(ctx, g.retry, func(ctx context.Context) (*googleGeocodeResponse, error) {
		return g.search(ctx, q.Text)
	})
	if err != nil {
		return failure(g.Name(), err)
	}

	switch resp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return Result{Kind: KindNoMatch, Provider: g.Name(), At: time.Now()}
	default:
		detail := resp.Status
		if resp.Message != "" {
			detail += ": " + resp.Message
		}
		return Result{Kind: KindPermanent, Provider: g.Name(), Detail: detail, At: time.Now()}
	}
	if len(resp.Results) == 0 {
		return Result{Kind: KindNoMatch, Provider: g.Name(), At: time.Now()}
	}

	top := resp.Results[0]
	return Result{
		Kind:     KindMatch,
		Lon:      top.Geometry.Location.Lng,
		Lat:      top.Geometry.Location.Lat,
		Provider: g.Name(),
		Detail:   top.FormattedAddress,
		At:       time.Now(),
	}
}

func (g *Google) search(ctx context.Context, text string) (*googleGeocodeResponse, error) {
	params := url.Values{
		"address": {text},
		"region":  {"br"},
		"key":     {g.apiKey},
	}

	reqURL := g.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: google build request")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "geocode: google request"))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("geocode: google returned status %d", resp.StatusCode)
		if resilience.RetryableStatus(resp.StatusCode) {
			return nil, resilience.Transient(err)
		}
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "geocode: google read body"))
	}

	var parsed googleGeocodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}
	// Google signals rate limiting in the body with a 200 status.
	if parsed.Status == "OVER_QUERY_LIMIT" {
		return nil, resilience.Transient(eris.New("geocode: google over query limit"))
	}
	return &parsed, nil
}
