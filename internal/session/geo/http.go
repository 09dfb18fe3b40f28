package geo

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTPResolver queries an ip-api style JSON endpoint. The endpoint URL must
// contain the placeholder {ip}, e.g. "https://geoip.internal/json/{ip}".
type HTTPResolver struct {
	client   *retryablehttp.Client
	endpoint string
}

func NewHTTPResolver(endpoint string, logger *slog.Logger) *HTTPResolver {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 100 * time.Millisecond
	client.RetryWaitMax = time.Second
	client.HTTPClient.Timeout = 3 * time.Second
	client.Logger = nil
	if logger != nil {
		client.Logger = slog.NewLogLogger(logger.Handler(), slog.LevelDebug)
	}

	return &HTTPResolver{client: client, endpoint: endpoint}
}

type lookupResponse struct {
	CountryCode string `json:"country_code"`
}

func (r *HTTPResolver) Locate(ctx context.Context, ip string) Region {
	target := strings.ReplaceAll(r.endpoint, "{ip}", url.PathEscape(ip))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return RegionUnknown
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return RegionUnknown
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return RegionUnknown
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return RegionUnknown
	}
	return Region(strings.ToUpper(body.CountryCode))
}
