package nakadi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	headerStreamID = "X-Nakadi-StreamId"
	maxErrorBody   = 4 << 10
)

// HTTPDriver talks to the broker's subscription API over HTTP.
type HTTPDriver struct {
	cfg    Config
	base   *url.URL
	Client *http.Client // optional, built from Config when nil
}

func (d *HTTPDriver) Configure(cfg Config) error {
	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return fmt.Errorf("nakadi: base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("nakadi: base_url %q must be http or https", cfg.BaseURL)
	}
	d.cfg, d.base = cfg, u
	if d.Client == nil {
		d.Client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.RequestTimeout,
		}}
	}
	return nil
}

func (d *HTTPDriver) Close() error {
	if d.Client != nil {
		d.Client.CloseIdleConnections()
	}
	return nil
}

func (d *HTTPDriver) endpoint(sub SubscriptionID, leaf string) string {
	return d.base.String() + "/subscriptions/" + url.PathEscape(string(sub)) + "/" + leaf
}

func (d *HTTPDriver) OpenStream(ctx context.Context, sub SubscriptionID, token string) (*Stream, error) {
	q := url.Values{}
	s := d.cfg.Stream
	if s.BatchLimit > 0 {
		q.Set("batch_limit", strconv.Itoa(s.BatchLimit))
	}
	if s.StreamLimit > 0 {
		q.Set("stream_limit", strconv.Itoa(s.StreamLimit))
	}
	if s.BatchFlushTimeout > 0 {
		q.Set("batch_flush_timeout", strconv.Itoa(int(s.BatchFlushTimeout.Seconds())))
	}
	if s.MaxUncommittedEvents > 0 {
		q.Set("max_uncommitted_events", strconv.Itoa(s.MaxUncommittedEvents))
	}
	target := d.endpoint(sub, "events")
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, newError(KindRequest, "build stream request", err)
	}
	setAuth(req, token)
	req.Header.Set("Accept", "application/x-json-stream")

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, newError(KindConnection, "open stream", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(OpStream, resp)
	}
	id := resp.Header.Get(headerStreamID)
	if id == "" {
		_ = resp.Body.Close()
		return nil, &Error{Kind: KindInvalidResponse, Context: "stream response without " + headerStreamID, Status: resp.StatusCode}
	}
	return &Stream{ID: StreamID(id), Body: resp.Body}, nil
}

type commitBody struct {
	Items []Cursor `json:"items"`
}

func (d *HTTPDriver) Commit(ctx context.Context, cr CommitRequest, token string) error {
	payload, err := json.Marshal(commitBody{Items: []Cursor{cr.Cursor}})
	if err != nil {
		return newError(KindRequest, "encode cursor", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint(cr.Subscription, "cursors"), bytes.NewReader(payload))
	if err != nil {
		return newError(KindRequest, "build commit request", err)
	}
	setAuth(req, token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerStreamID, string(cr.Stream))

	resp, err := d.Client.Do(req)
	if err != nil {
		return newError(KindConnection, "commit cursor", err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		// 200 lists cursors the broker already had newer commits for.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		_ = resp.Body.Close()
		return nil
	default:
		return statusError(OpCommit, resp)
	}
}

func setAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func statusError(op Op, resp *http.Response) *Error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return FromStatus(op, resp.StatusCode, body)
}
