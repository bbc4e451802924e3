package enrich

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/traffic.picture/internal/httputil"
	"github.com/banshee-data/traffic.picture/internal/track"
)

func newMetadataClient(t *testing.T, mock *httputil.MockHTTPClient) *MetadataClient {
	t.Helper()
	c, err := NewMetadataClient(MetadataConfig{
		BaseURL:    "http://piaware/dump1090-fa/",
		HTTPClient: mock,
		CacheSize:  16,
	})
	require.NoError(t, err)
	return c
}

func TestNewMetadataClient_RejectsRelativeURL(t *testing.T) {
	t.Parallel()

	_, err := NewMetadataClient(MetadataConfig{BaseURL: "/dump1090-fa"})
	assert.Error(t, err)
}

func TestMetadataLookup_TopLevelShard(t *testing.T) {
	t.Parallel()

	mock := httputil.NewMockHTTPClient()
	mock.AddRoute("/db/4.json", http.StatusOK,
		`{"CA7B5": {"r": " EI-DWF ", "t": "B738", "desc": "BOEING 737-800", "wtc": "M"}}`)
	c := newMetadataClient(t, mock)

	md, err := c.Lookup(context.Background(), "4ca7b5")
	require.NoError(t, err)
	assert.Equal(t, track.Metadata{
		Registration:    "EI-DWF",
		TypeCode:        "B738",
		TypeDescription: "BOEING 737-800",
		WakeCategory:    "M",
	}, md)
	assert.Equal(t, []string{"/dump1090-fa/db/4.json"}, mock.RequestedPaths())
}

func TestMetadataLookup_FollowsChildren(t *testing.T) {
	t.Parallel()

	mock := httputil.NewMockHTTPClient()
	mock.AddRoute("/db/4.json", http.StatusOK, `{"children": ["40", "4C"]}`)
	mock.AddRoute("/db/40.json", http.StatusOK, `{"children": ["406"]}`)
	mock.AddRoute("/db/406.json", http.StatusOK, `{"21D": {"r": "G-EZTH", "t": "A320"}}`)
	c := newMetadataClient(t, mock)

	md, err := c.Lookup(context.Background(), "40621D")
	require.NoError(t, err)
	assert.Equal(t, "G-EZTH", md.Registration)
	assert.Equal(t, "A320", md.TypeCode)
	assert.Empty(t, md.WakeCategory)

	assert.Equal(t, []string{
		"/dump1090-fa/db/4.json",
		"/dump1090-fa/db/40.json",
		"/dump1090-fa/db/406.json",
	}, mock.RequestedPaths())
}

func TestMetadataLookup_NotFoundIsCached(t *testing.T) {
	t.Parallel()

	mock := httputil.NewMockHTTPClient()
	mock.AddRoute("/db/4.json", http.StatusOK, `{"children": ["40"]}`)
	c := newMetadataClient(t, mock)

	_, err := c.Lookup(context.Background(), "4ca7b5")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = c.Lookup(context.Background(), "4CA7B5")
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Equal(t, 1, mock.RequestCount())
	assert.Equal(t, 1, c.CacheLen())
}

func TestMetadataLookup_MissingShardIsNotFound(t *testing.T) {
	t.Parallel()

	mock := httputil.NewMockHTTPClient()
	mock.AddRoute(".json", http.StatusNotFound, "")
	c := newMetadataClient(t, mock)

	_, err := c.Lookup(context.Background(), "a1b2c3")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMetadataLookup_TransportErrorNotCached(t *testing.T) {
	t.Parallel()

	mock := httputil.NewMockHTTPClient()
	mock.AddErrorResponse(errors.New("connection reset"))
	mock.AddResponse(http.StatusOK, `{"CA7B5": {"r": "EI-DWF"}}`)
	c := newMetadataClient(t, mock)

	_, err := c.Lookup(context.Background(), "4ca7b5")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	md, err := c.Lookup(context.Background(), "4ca7b5")
	require.NoError(t, err)
	assert.Equal(t, "EI-DWF", md.Registration)
}

func TestMetadataLookup_SharedShardCache(t *testing.T) {
	t.Parallel()

	mock := httputil.NewMockHTTPClient()
	mock.AddRoute("/db/4.json", http.StatusOK, `{"CA7B5": {"r": "EI-DWF"}, "00001": {"r": "G-AAAA"}}`)
	c := newMetadataClient(t, mock)

	_, err := c.Lookup(context.Background(), "4ca7b5")
	require.NoError(t, err)
	md, err := c.Lookup(context.Background(), "400001")
	require.NoError(t, err)
	assert.Equal(t, "G-AAAA", md.Registration)
	assert.Equal(t, 1, mock.RequestCount())
}

func TestMetadataLookup_NonICAO(t *testing.T) {
	t.Parallel()

	mock := httputil.NewMockHTTPClient()
	c := newMetadataClient(t, mock)

	_, err := c.Lookup(context.Background(), "~2a0f31")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, mock.RequestCount())
}

func TestMetadataLookup_CancelledContext(t *testing.T) {
	t.Parallel()

	mock := httputil.NewMockHTTPClient()
	c := newMetadataClient(t, mock)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Lookup(ctx, "4ca7b5")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, c.CacheLen())
}

func TestWeatherLookup(t *testing.T) {
	t.Parallel()

	mock := httputil.NewMockHTTPClient()
	mock.AddRoute("/api/data/metar", http.StatusOK, "EGHH 171320Z 24012KT 9999 FEW030 14/08 Q1012\n\n")
	c, err := NewWeatherClient(WeatherConfig{URL: "https://aviationweather.gov/api/data/metar", HTTPClient: mock})
	require.NoError(t, err)

	lines, err := c.Lookup(context.Background(), "eghh")
	require.NoError(t, err)
	assert.Equal(t, []string{"EGHH 171320Z 24012KT 9999 FEW030 14/08 Q1012"}, lines)

	req := mock.GetRequest(0)
	require.NotNil(t, req)
	assert.Equal(t, "EGHH", req.URL.Query().Get("ids"))
}

func TestWeatherLookup_Errors(t *testing.T) {
	t.Parallel()

	_, err := NewWeatherClient(WeatherConfig{URL: "metar"})
	assert.Error(t, err)

	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(http.StatusInternalServerError, "")
	c, err := NewWeatherClient(WeatherConfig{URL: "https://aviationweather.gov/api/data/metar", HTTPClient: mock})
	require.NoError(t, err)

	_, err = c.Lookup(context.Background(), "EGHI")
	var statusErr *httputil.StatusError
	assert.True(t, errors.As(err, &statusErr))

	_, err = c.Lookup(context.Background(), " ")
	assert.Error(t, err)
}
