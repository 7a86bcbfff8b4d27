package match

import (
	"context"
	"encoding/json"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/vela-astro/xmatch-cli/internal/model"
	"github.com/vela-astro/xmatch-cli/internal/schema"
)

// RemoteOpts configures the HTTP cone-search client.
type RemoteOpts struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
}

// RemoteMatcher queries a cone-search HTTP endpoint. The endpoint receives
// ra/dec in ICRS degrees and radius in arc-minutes, and answers with a JSON
// document of columns plus rows keyed by column name.
type RemoteMatcher struct {
	baseURL     string
	sch         *schema.Schema
	client      *http.Client
	opts        RemoteOpts
	backoffBase time.Duration
}

// NewRemoteMatcher builds a cone-search client for one reference service.
func NewRemoteMatcher(baseURL string, sch *schema.Schema, opts RemoteOpts) *RemoteMatcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "xmatch-cli/1.0"
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &RemoteMatcher{
		baseURL: baseURL,
		sch:     sch,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:        opts,
		backoffBase: time.Second,
	}
}

// Name returns the reference database name.
func (r *RemoteMatcher) Name() string { return r.sch.Name }

// Schema returns the database's column roles.
func (r *RemoteMatcher) Schema() *schema.Schema { return r.sch }

type coneResponse struct {
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// QueryRadius performs one cone query. Connection failures, rate limiting,
// and server errors that survive the retry budget surface as
// ErrServiceUnavailable so the engine can drop the row and continue.
func (r *RemoteMatcher) QueryRadius(ctx context.Context, pos model.Position, radiusArcmin float64) (*model.Table, error) {
	q := url.Values{}
	q.Set("ra", strconv.FormatFloat(pos.RA, 'f', -1, 64))
	q.Set("dec", strconv.FormatFloat(pos.Dec, 'f', -1, 64))
	q.Set("radius", strconv.FormatFloat(radiusArcmin, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, eris.Wrapf(err, "match: build query for %s", r.sch.Name)
	}
	req.Header.Set("User-Agent", r.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := r.doWithRetry(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(ErrServiceUnavailable, "match: query %s: %v", r.sch.Name, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("match: query %s: unexpected status %d", r.sch.Name, resp.StatusCode)
	}

	var body coneResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, eris.Wrapf(err, "match: decode %s response", r.sch.Name)
	}

	out := model.NewTable(body.Columns...)
	for _, row := range body.Rows {
		out.Append(model.Row(row))
	}
	return out, nil
}

func (r *RemoteMatcher) doWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < r.opts.MaxRetries; attempt++ {
		cloned := req.Clone(ctx)
		resp, err := r.client.Do(cloned)
		if err != nil {
			lastErr = err
			zap.L().Warn("cone query failed, retrying",
				zap.String("database", r.sch.Name),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			r.backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = eris.Errorf("http %d from %s", resp.StatusCode, r.sch.Name)
			zap.L().Warn("cone query rejected, retrying",
				zap.String("database", r.sch.Name),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt+1),
			)
			r.backoff(ctx, attempt)
			continue
		}

		return resp, nil
	}
	return nil, eris.Wrap(lastErr, "all retries exhausted")
}

func (r *RemoteMatcher) backoff(ctx context.Context, attempt int) {
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(r.backoffBase) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int63n(int64(d)/2 + 1))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
