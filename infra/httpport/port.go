// Package httpport implements the site port over the HTTP API exposed by the
// charging site: budget and session reads, profile dispatch.
package httpport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/kilianp07/scm/auth"
	"github.com/kilianp07/scm/core/algorithm"
	"github.com/kilianp07/scm/core/model"
	"github.com/kilianp07/scm/core/scm"
	"github.com/kilianp07/scm/infra/logger"
)

// Config defines the site API endpoint.
type Config struct {
	BaseURL        string    `json:"base_url"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	Auth           auth.Conf `json:"auth"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 10
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("site base_url is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("site base_url: %w", err)
	}
	return nil
}

// StatusError is returned when the site answers with a non 2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Port is the HTTP implementation of scm.SitePort.
type Port struct {
	base    string
	client  *http.Client
	creds   *auth.ClientCred
	horizon algorithm.HorizonConfig
	log     logger.Logger
}

var _ scm.SitePort = (*Port)(nil)

// New returns a port for the given planning grid.
func New(cfg Config, horizon algorithm.HorizonConfig) (*Port, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := horizon.Validate(); err != nil {
		return nil, err
	}
	p := &Port{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		horizon: horizon,
		log:     logger.New("site_port"),
	}
	if cfg.Auth.Enabled() {
		p.creds = auth.NewClientCred(cfg.Auth)
	}
	return p, nil
}

// FetchPowerBudget implements scm.SitePort. The site returns sparse points;
// each step takes the latest point at or before its start. No point at or
// before reference yields an empty curve.
func (p *Port) FetchPowerBudget(ctx context.Context, group string, reference time.Time, voltageHint float64) (model.BudgetCurve, error) {
	q := url.Values{}
	q.Set("group_name", group)
	q.Set("timestamp", reference.Format(time.RFC3339))
	if voltageHint > 0 {
		q.Set("voltage", formatVoltage(voltageHint))
	}
	var body BudgetResponse
	if err := p.getJSON(ctx, "/peak_power_demand", q, &body); err != nil {
		return model.BudgetCurve{}, err
	}
	values, err := ForwardFill(body, reference, p.horizon)
	if err != nil {
		return model.BudgetCurve{}, err
	}
	if values == nil {
		p.log.Warnf("no budget data at or before %s for group %s", reference.Format(time.RFC3339), group)
		return model.BudgetCurve{}, nil
	}
	return model.BudgetCurve{Start: reference, Step: p.horizon.StepWidth, Values: values}, nil
}

type point struct {
	at    time.Time
	value float64
}

// ForwardFill turns timestamped points into exactly horizon.Steps values. It
// returns nil when no point exists at or before reference.
func ForwardFill(data map[string]float64, reference time.Time, horizon algorithm.HorizonConfig) ([]float64, error) {
	points := make([]point, 0, len(data))
	for k, v := range data {
		at, err := time.Parse(time.RFC3339Nano, k)
		if err != nil {
			return nil, fmt.Errorf("budget timestamp %q: %w", k, err)
		}
		points = append(points, point{at: at, value: v})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })
	if len(points) == 0 || points[0].at.After(reference) {
		return nil, nil
	}
	values := make([]float64, horizon.Steps)
	cur := 0
	for t := range values {
		at := reference.Add(time.Duration(t) * horizon.StepWidth)
		for cur+1 < len(points) && !points[cur+1].at.After(at) {
			cur++
		}
		values[t] = points[cur].value
	}
	return values, nil
}

// FetchSessions implements scm.SitePort. Active and future sessions must
// report the same voltage, absent on both sides included.
func (p *Port) FetchSessions(ctx context.Context, group string) ([]model.Session, float64, error) {
	q := url.Values{}
	q.Set("group_name", group)
	var active ActiveResponse
	if err := p.getJSON(ctx, "/evs", q, &active); err != nil {
		return nil, 0, err
	}
	var future FutureResponse
	if err := p.getJSON(ctx, "/future_evs", q, &future); err != nil {
		return nil, 0, err
	}
	if !sameVoltage(active.Voltage, future.Voltage) {
		return nil, 0, fmt.Errorf("%w: active %s, future %s", scm.ErrVoltageMismatch, showVoltage(active.Voltage), showVoltage(future.Voltage))
	}
	var voltage float64
	if active.Voltage != nil {
		voltage = *active.Voltage
	}
	sessions := make([]model.Session, 0, len(active.EVs)+len(future.EVs))
	for _, d := range active.EVs {
		sessions = append(sessions, d.Session(model.StatusActive, voltage))
	}
	for _, d := range future.EVs {
		sessions = append(sessions, d.Session(model.StatusFuture, voltage))
	}
	p.log.Debugf("fetched %d active and %d future sessions for group %s", len(active.EVs), len(future.EVs), group)
	return sessions, voltage, nil
}

func sameVoltage(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func showVoltage(v *float64) string {
	if v == nil {
		return "none"
	}
	return formatVoltage(*v)
}

// PublishAllocation implements scm.SitePort.
func (p *Port) PublishAllocation(ctx context.Context, alloc model.Allocation, unit model.ChargingRateUnit) error {
	profiles := alloc.Profiles(unit)
	body := PowersRequest{Powers: make(map[string]model.ChargingProfile, len(profiles)), Unit: unit}
	for _, prof := range profiles {
		body.Powers[prof.SessionID] = prof
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := p.do(ctx, http.MethodPost, "/powers", nil, b)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	p.log.Infof("sent %d profiles for group %s", len(profiles), alloc.Group)
	return nil
}

func (p *Port) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	resp, err := p.do(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// do sends the request and returns a 2xx response. A 401 with credentials
// configured refreshes the token and retries once.
func (p *Port) do(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := p.newRequest(ctx, method, path, q, body)
		if err != nil {
			return nil, err
		}
		if p.creds != nil {
			if attempt > 0 {
				if _, err := p.creds.ForceRefresh(ctx); err != nil {
					return nil, err
				}
			}
			if err := p.creds.SetAuthHeader(req); err != nil {
				return nil, err
			}
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized && p.creds != nil && attempt == 0 {
			continue
		}
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
}

func (p *Port) newRequest(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Request, error) {
	u := p.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
