package propai

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"propintel/internal/adapters/observability"
	"propintel/internal/domain"
)

// Client talks to the PropAI extraction backend and its contact/email-log
// endpoints. Idempotent GETs retry on 429/transient 5xx with Retry-After
// support; mutating POSTs get exactly one attempt — the upload flow's "no
// automatic retry" contract extends to every write.
type Client struct {
	base string
	hc   *http.Client
	key  string
	rl   *rate.Limiter
}

func New(base, key string, rps int) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		hc:   &http.Client{Timeout: 60 * time.Second},
		key:  key,
		rl:   rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// ---- wire shapes ----

type extractResponse struct {
	Status string           `json:"status"`
	Data   []map[string]any `json:"data"`
	Detail string           `json:"detail"`
}

type messageResponse struct {
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// wireEmailLog tolerates both historical spellings (body/message,
// propertyId/property_id) and loose timestamps.
type wireEmailLog struct {
	ID            string `json:"id"`
	To            string `json:"to"`
	From          string `json:"from"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	Message       string `json:"message"`
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	PropertyID    string `json:"propertyId"`
	PropertyIDAlt string `json:"property_id"`
	PropertyTitle string `json:"propertyTitle"`
}

func (w wireEmailLog) toDomain() domain.EmailLog {
	l := domain.EmailLog{
		ID:            w.ID,
		To:            w.To,
		From:          w.From,
		Subject:       w.Subject,
		Body:          w.Body,
		PropertyID:    w.PropertyID,
		PropertyTitle: w.PropertyTitle,
	}
	if l.Body == "" {
		l.Body = w.Message
	}
	if l.PropertyID == "" {
		l.PropertyID = w.PropertyIDAlt
	}
	switch strings.ToLower(strings.TrimSpace(w.Status)) {
	case "pending":
		l.Status = domain.EmailPending
	case "failed":
		l.Status = domain.EmailFailed
	default:
		l.Status = domain.EmailSent
	}
	l.Timestamp = parseTimestamp(w.Timestamp)
	return l
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ---- public API ----

// Extract uploads one PDF as the multipart field "pdf" and returns the raw
// extraction records. Business failures map to *domain.BackendError (detail
// preserved verbatim) or domain.ErrNoData.
func (c *Client) Extract(ctx context.Context, filename string, pdf io.Reader) ([]map[string]any, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("pdf", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, pdf); err != nil {
		return nil, fmt.Errorf("buffer pdf: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/extract_data", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.setCommonHeaders(req)

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("propai", "extract_data", 0, time.Since(start))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("propai", "extract_data", resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, backendErr(resp)
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode extraction response: %w", err)
	}
	if out.Status != "success" || len(out.Data) == 0 {
		return nil, domain.ErrNoData
	}
	return out.Data, nil
}

// ContactBroker posts one message and returns the server's message verbatim.
func (c *Client) ContactBroker(ctx context.Context, msg domain.ContactMessage) (string, error) {
	var out messageResponse
	if err := c.postJSON(ctx, "/api/contact-broker", msg, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// EmailLogs fetches the full delivery log; property filtering is the
// caller's concern.
func (c *Client) EmailLogs(ctx context.Context) ([]domain.EmailLog, error) {
	var wire []wireEmailLog
	if err := c.get(ctx, c.base+"/api/email_logs", &wire); err != nil {
		return nil, err
	}
	out := make([]domain.EmailLog, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.toDomain())
	}
	return out, nil
}

// ResendEmail asks the backend to redeliver one logged message.
func (c *Client) ResendEmail(ctx context.Context, id string) error {
	return c.postJSON(ctx, "/api/email_logs/"+id+"/resend", struct{}{}, nil)
}

// SyncProperty is the fire-and-forget detail-page hook: the backend keeps its
// dealer-reply analysis current for the property being viewed.
func (c *Client) SyncProperty(ctx context.Context, title string, property domain.Property) error {
	payload := struct {
		Title        string          `json:"title"`
		PropertyData domain.Property `json:"property_data"`
	}{Title: title, PropertyData: property}
	return c.postJSON(ctx, "/api/analyze-dealer-replies", payload, nil)
}

// ---- internals ----

func (c *Client) setCommonHeaders(req *http.Request) {
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "propintel/1.0")
}

// backendErr extracts the server's JSON detail/message for verbatim display.
func backendErr(resp *http.Response) error {
	be := &domain.BackendError{Status: resp.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body messageResponse
	if err := json.Unmarshal(b, &body); err == nil {
		if body.Detail != "" {
			be.Detail = body.Detail
		} else if body.Message != "" {
			be.Detail = body.Message
		}
	}
	return be
}

// postJSON performs a single-attempt POST with rate limiting.
func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setCommonHeaders(req)

	endpoint := strings.TrimPrefix(path, "/")
	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("propai", endpoint, 0, time.Since(start))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("propai", endpoint, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return domain.ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return domain.ErrForbidden
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return backendErr(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// get performs a GET with client-side rate limiting, retries, and JSON decode
// into out. Retries on 429 and transient 5xx, honoring Retry-After.
func (c *Client) get(ctx context.Context, url string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < 4; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		c.setCommonHeaders(req)

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal("propai", "email_logs", 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal("propai", "email_logs", resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusAccepted:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			return err

		case http.StatusNoContent:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil

		case http.StatusNotFound:
			resp.Body.Close()
			return domain.ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return domain.ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return domain.ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			err := backendErr(resp)
			resp.Body.Close()
			return err
		}
	}

	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential backoff delay with concurrency-safe jitter.
// i = retry attempt (0,1,2,...). Base doubles each attempt (200ms, 400ms, 800ms...),
// with up to +50% random jitter to avoid thundering herds.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	j := time.Duration(0.5 * f * float64(base))
	return base + j
}
