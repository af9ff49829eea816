package mercado

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/jpavez/tender-scout/internal/tender"
)

const (
	apiURL    = "http://34.46.3.229:5000/licitaciones"
	statusURL = "https://api.mercadopublico.cl/servicios/v1/publico/licitaciones.json"

	catalogPath = "/catalog"

	// Pause between consecutive API calls. The source is a shared public
	// endpoint; hammering it gets the key throttled.
	defaultPause = 500 * time.Millisecond
)

// Client talks to the tender source: the mirrored catalog API for bulk
// day downloads and the public registry for live status lookups.
type Client struct {
	// ctx used only for http requests right now
	ctx          context.Context
	apiKey       string
	statusTicket string
	logger       *zap.Logger
	HTTPClient   *http.Client
	APIURL       string
	StatusURL    string
	Pause        time.Duration
}

func New(ctx context.Context, logger *zap.Logger, apiKey, statusTicket string) *Client {
	return &Client{
		ctx:          ctx,
		apiKey:       apiKey,
		statusTicket: statusTicket,
		APIURL:       apiURL,
		StatusURL:    statusURL,
		HTTPClient: &http.Client{
			Timeout: 90 * time.Second,
		},
		logger: logger,
		Pause:  defaultPause,
	}
}

// CatalogDay is one entry of the remote change catalog.
type CatalogDay struct {
	Date     string `json:"fecha"`
	Checksum string `json:"checksum"`
}

type catalogResponse struct {
	Days []CatalogDay `json:"dias"`
}

// ListChangedDays fetches the remote catalog: every day the source knows
// about with its current content checksum, newest first. Entries missing
// a date or checksum are dropped.
func (c *Client) ListChangedDays() ([]CatalogDay, error) {
	var response catalogResponse
	if err := c.getJSON(c.catalogURL(), nil, &response); err != nil {
		return nil, fmt.Errorf("fetching catalog: %w", err)
	}

	days := make([]CatalogDay, 0, len(response.Days))
	for _, d := range response.Days {
		if d.Date == "" || d.Checksum == "" {
			continue
		}
		days = append(days, d)
	}

	sort.Slice(days, func(i, j int) bool { return days[i].Date > days[j].Date })

	c.logger.Debug("got remote catalog", zap.Int("days", len(days)))

	return days, nil
}

// FetchDay downloads all tenders published on one day. The endpoint
// answers either a bare list or an object wrapping it, and its numeric
// fields arrive as numbers or strings depending on the day, so decoding
// goes through a weakly-typed pass.
func (c *Client) FetchDay(date string) (*tender.Tenders, error) {
	q := url.Values{}
	q.Set("dia", date)

	var raw any
	if err := c.getJSON(c.APIURL, q, &raw); err != nil {
		return nil, fmt.Errorf("fetching day %s: %w", date, err)
	}

	items := dayItems(raw)

	var tenders []*tender.Tender
	cfg := &mapstructure.DecoderConfig{
		Result:           &tenders,
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("decoding day %s: %w", date, err)
	}

	c.logger.Debug("fetched day", zap.String("date", date), zap.Int("tenders", len(tenders)))

	return &tender.Tenders{Items: tenders}, nil
}

func dayItems(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case map[string]any:
		if list, ok := v["licitaciones"].([]any); ok {
			return list
		}
	}
	return nil
}

func (c *Client) catalogURL() string {
	u := c.APIURL
	if idx := strings.LastIndex(u, "/"); idx != -1 {
		u = u[:idx]
	}
	return u + catalogPath
}
