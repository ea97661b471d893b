// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/featurebasedb/parcelsync"
	"github.com/featurebasedb/parcelsync/errors"
	"github.com/featurebasedb/parcelsync/logger"
	"github.com/featurebasedb/parcelsync/ratelimit"
	"github.com/featurebasedb/parcelsync/tracing"
	"github.com/hashicorp/go-retryablehttp"
)

// ArcGISConfig configures an ArcGISFetcher.
type ArcGISConfig struct {
	// URL is the feature layer, e.g.
	// https://services.arcgis.com/.../FeatureServer/0. Queries go to URL/query.
	URL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// PartitionField is the attribute that holds the partition code.
	PartitionField string
	// QuotePartition quotes the partition code in the where clause, for
	// string-typed partition fields.
	QuotePartition bool
	// OutFields is the comma separated attribute list, "*" for all.
	OutFields string
	// OrderBy keeps paging stable across requests.
	OrderBy string
	// OutSR is the spatial reference of returned geometry.
	OutSR int
	// NoGeometry skips geometry in responses.
	NoGeometry bool

	Timeout time.Duration
	// MaxAttempts bounds attempts per request, including the first.
	MaxAttempts  int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// DefaultArcGISConfig returns the settings of the Florida statewide
// cadastral layer.
func DefaultArcGISConfig() ArcGISConfig {
	return ArcGISConfig{
		PartitionField: "CO_NO",
		OutFields:      "*",
		OrderBy:        "OBJECTID",
		OutSR:          4326,
		Timeout:        60 * time.Second,
		MaxAttempts:    3,
		RetryWaitMin:   time.Second,
		RetryWaitMax:   30 * time.Second,
	}
}

// ArcGISFetcher pages through an ArcGIS FeatureServer layer with
// resultOffset/resultRecordCount queries filtered to one partition. Every
// attempt first acquires the shared rate limiter.
type ArcGISFetcher struct {
	cfg     ArcGISConfig
	client  *http.Client
	limiter *ratelimit.Limiter
	clock   ratelimit.Clock
	log     logger.Logger
	// Names labels partitions discovered by Partitions.
	Names map[parcelsync.PartitionID]string
}

// ArcGISOption configures an ArcGISFetcher.
type ArcGISOption func(*ArcGISFetcher)

// OptArcGISHTTPClient replaces the HTTP client.
func OptArcGISHTTPClient(c *http.Client) ArcGISOption {
	return func(f *ArcGISFetcher) { f.client = c }
}

// OptArcGISLogger sets the logger.
func OptArcGISLogger(log logger.Logger) ArcGISOption {
	return func(f *ArcGISFetcher) { f.log = log }
}

// OptArcGISClock sets the clock used for retry sleeps.
func OptArcGISClock(c ratelimit.Clock) ArcGISOption {
	return func(f *ArcGISFetcher) { f.clock = c }
}

// NewArcGISFetcher returns a fetcher for cfg sharing limiter with other
// workers.
func NewArcGISFetcher(cfg ArcGISConfig, limiter *ratelimit.Limiter, opts ...ArcGISOption) (*ArcGISFetcher, error) {
	if cfg.URL == "" {
		return nil, errors.New(parcelsync.ErrInvalidConfig, "source URL is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, errors.WrapCode(err, parcelsync.ErrInvalidConfig, "parsing source URL")
	}
	if cfg.PartitionField == "" {
		return nil, errors.New(parcelsync.ErrInvalidConfig, "partition field is required")
	}
	if cfg.OutFields == "" {
		cfg.OutFields = "*"
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{})
	}
	f := &ArcGISFetcher{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		clock:   ratelimit.SystemClock,
		log:     logger.NopLogger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

type arcgisFeature struct {
	Attributes map[string]interface{} `json:"attributes"`
	Geometry   map[string]interface{} `json:"geometry"`
}

type arcgisError struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details"`
}

type arcgisResponse struct {
	Features              []arcgisFeature `json:"features"`
	ExceededTransferLimit *bool           `json:"exceededTransferLimit"`
	Count                 *int64          `json:"count"`
	Error                 *arcgisError    `json:"error"`
}

func (f *ArcGISFetcher) where(p parcelsync.Partition) string {
	if f.cfg.QuotePartition {
		return fmt.Sprintf("%s='%s'", f.cfg.PartitionField, strings.ReplaceAll(string(p.ID), "'", "''"))
	}
	return fmt.Sprintf("%s=%s", f.cfg.PartitionField, p.ID)
}

// Fetch returns up to limit records of p starting at offset cursor.
func (f *ArcGISFetcher) Fetch(ctx context.Context, p parcelsync.Partition, cursor int64, limit int) (*Page, error) {
	if limit <= 0 {
		return nil, errors.Newf(parcelsync.ErrFatal, "invalid page size %d", limit)
	}
	q := url.Values{}
	q.Set("where", f.where(p))
	q.Set("outFields", f.cfg.OutFields)
	q.Set("resultOffset", strconv.FormatInt(cursor, 10))
	q.Set("resultRecordCount", strconv.Itoa(limit))
	if f.cfg.OrderBy != "" {
		q.Set("orderByFields", f.cfg.OrderBy)
	}
	if f.cfg.NoGeometry {
		q.Set("returnGeometry", "false")
	} else {
		q.Set("returnGeometry", "true")
		if f.cfg.OutSR != 0 {
			q.Set("outSR", strconv.Itoa(f.cfg.OutSR))
		}
	}

	var resp arcgisResponse
	if err := f.query(ctx, q, &resp); err != nil {
		return nil, errors.Wrapf(err, "fetching partition %s at %d", p.ID, cursor)
	}

	page := &Page{
		Records:    make([]parcelsync.RawRecord, 0, len(resp.Features)),
		NextCursor: cursor + int64(len(resp.Features)),
	}
	for _, feat := range resp.Features {
		rec := parcelsync.RawRecord(feat.Attributes)
		if rec == nil {
			rec = parcelsync.RawRecord{}
		}
		if feat.Geometry != nil {
			rec[parcelsync.GeometryField] = feat.Geometry
		}
		page.Records = append(page.Records, rec)
	}
	switch {
	case len(resp.Features) == 0:
		page.HasMore = false
	case resp.ExceededTransferLimit != nil:
		page.HasMore = *resp.ExceededTransferLimit
	default:
		page.HasMore = len(resp.Features) >= limit
	}
	return page, nil
}

// Count returns the number of records the layer holds for p.
func (f *ArcGISFetcher) Count(ctx context.Context, p parcelsync.Partition) (int64, error) {
	q := url.Values{}
	q.Set("where", f.where(p))
	q.Set("returnCountOnly", "true")
	var resp arcgisResponse
	if err := f.query(ctx, q, &resp); err != nil {
		return 0, errors.Wrapf(err, "counting partition %s", p.ID)
	}
	if resp.Count == nil {
		return 0, errors.Newf(parcelsync.ErrFatal, "count response for partition %s has no count", p.ID)
	}
	return *resp.Count, nil
}

// Partitions queries the distinct partition codes present in the layer.
func (f *ArcGISFetcher) Partitions(ctx context.Context) ([]parcelsync.Partition, error) {
	q := url.Values{}
	q.Set("where", "1=1")
	q.Set("outFields", f.cfg.PartitionField)
	q.Set("returnDistinctValues", "true")
	q.Set("returnGeometry", "false")
	q.Set("orderByFields", f.cfg.PartitionField)
	var resp arcgisResponse
	if err := f.query(ctx, q, &resp); err != nil {
		return nil, errors.Wrap(err, "listing partitions")
	}
	seen := make(map[parcelsync.PartitionID]bool)
	var out []parcelsync.Partition
	for _, feat := range resp.Features {
		v, ok := feat.Attributes[f.cfg.PartitionField]
		if !ok || v == nil {
			continue
		}
		id := parcelsync.PartitionID(strings.TrimSpace(fmt.Sprint(v)))
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, parcelsync.Partition{ID: id, Name: f.Names[id]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, aerr := strconv.Atoi(string(out[i].ID))
		b, berr := strconv.Atoi(string(out[j].ID))
		if aerr == nil && berr == nil {
			return a < b
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// query performs one logical request with bounded retries and decodes the
// JSON body into out.
func (f *ArcGISFetcher) query(ctx context.Context, q url.Values, out *arcgisResponse) error {
	q.Set("f", "json")
	u := strings.TrimRight(f.cfg.URL, "/") + "/query?" + q.Encode()

	var lastErr error
	for attempt := 0; attempt < f.cfg.MaxAttempts; attempt++ {
		if err := f.limiter.Acquire(ctx); err != nil {
			return err
		}

		retry, wait, err := f.attempt(ctx, u, attempt, out)
		if err == nil {
			queriesIssued.WithLabelValues("ok").Inc()
			f.limiter.Success()
			return nil
		}
		queriesIssued.WithLabelValues(string(errors.CodeOf(err))).Inc()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !retry {
			return err
		}
		lastErr = err
		queriesRetried.Inc()
		f.log.Warnf("source request failed (attempt %d/%d): %v", attempt+1, f.cfg.MaxAttempts, err)
		if wait > 0 && attempt+1 < f.cfg.MaxAttempts {
			if err := f.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	return errors.WrapCode(lastErr, parcelsync.ErrTransient, fmt.Sprintf("giving up after %d attempts", f.cfg.MaxAttempts))
}

// attempt issues a single request. It reports whether a failure is worth
// retrying and how long to sleep first; throttling waits are left to the
// rate limiter.
func (f *ArcGISFetcher) attempt(ctx context.Context, u string, attempt int, out *arcgisResponse) (retry bool, wait time.Duration, err error) {
	span, ctx := tracing.StartSpanFromContext(ctx, "source.query")
	defer span.Finish()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, 0, errors.WrapCode(err, parcelsync.ErrFatal, "building request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "parcelsync/"+parcelsync.Version)
	if f.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.APIKey)
	}
	tracing.InjectHTTPHeaders(req)

	resp, err := f.client.Do(req)
	shouldRetry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	if checkErr != nil {
		return false, 0, checkErr
	}
	if err != nil {
		if !shouldRetry {
			return false, 0, errors.WrapCode(err, parcelsync.ErrFatal, "requesting source")
		}
		return true, f.backoff(attempt, nil), errors.WrapCode(err, parcelsync.ErrTransient, "requesting source")
	}
	defer resp.Body.Close()
	span.LogKV("status", resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		ra := retryAfter(resp.Header.Get("Retry-After"), f.clock.Now())
		f.limiter.Throttle(ra)
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, 0, errors.New(parcelsync.ErrTransient, "source throttled request (429)")
	case shouldRetry:
		return true, f.backoff(attempt, resp), errors.Newf(parcelsync.ErrTransient, "source returned %s: %s", resp.Status, snippet(resp.Body))
	case resp.StatusCode != http.StatusOK:
		return false, 0, errors.Newf(parcelsync.ErrFatal, "source returned %s: %s", resp.Status, snippet(resp.Body))
	}

	*out = arcgisResponse{}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return true, f.backoff(attempt, nil), errors.WrapCode(err, parcelsync.ErrTransient, "decoding source response")
	}
	if e := out.Error; e != nil {
		msg := fmt.Sprintf("source error %d: %s %s", e.Code, e.Message, strings.Join(e.Details, "; "))
		switch e.Code {
		case http.StatusTooManyRequests:
			f.limiter.Throttle(0)
			return true, 0, errors.New(parcelsync.ErrTransient, msg)
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, 498, 499:
			return false, 0, errors.New(parcelsync.ErrFatal, msg)
		default:
			return true, f.backoff(attempt, nil), errors.New(parcelsync.ErrTransient, msg)
		}
	}
	return false, 0, nil
}

func (f *ArcGISFetcher) backoff(attempt int, resp *http.Response) time.Duration {
	return retryablehttp.DefaultBackoff(f.cfg.RetryWaitMin, f.cfg.RetryWaitMax, attempt, resp)
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP
// date. Missing or malformed values yield 0.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}
