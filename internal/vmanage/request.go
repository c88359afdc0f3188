package vmanage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/user/edgegate/internal/apperr"
)

const maxBodySize = 32 << 20

// Request is one controller API call. Path is relative to /dataservice.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is JSON-encoded when non-nil.
	Body interface{}
}

// Response is a successful controller reply.
type Response struct {
	Status int
	Body   []byte
	op     string
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return apperr.Wrap(apperr.KindParse, r.op, err)
	}
	return nil
}

// Rows extracts the record list from either {"data": [...]} or a bare array.
func (r *Response) Rows() ([]map[string]interface{}, error) {
	trimmed := bytes.TrimSpace(r.Body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var rows []map[string]interface{}
		if err := r.Decode(&rows); err != nil {
			return nil, err
		}
		return rows, nil
	}
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := r.Decode(&wrapped); err != nil {
		return nil, err
	}
	if len(wrapped.Data) == 0 || string(wrapped.Data) == "null" {
		return nil, nil
	}
	var rows []map[string]interface{}
	if err := json.Unmarshal(wrapped.Data, &rows); err != nil {
		return nil, apperr.New(apperr.KindParse, r.op, "data is not a record list")
	}
	return rows, nil
}

// Do sends r with the credentials of h. A 401/403 or a login page means the
// controller rejected the session; other non-2xx statuses are upstream errors.
func (m *Manager) Do(ctx context.Context, h *Handle, r Request) (*Response, error) {
	op := "controller " + strings.ToLower(r.Method) + " " + r.Path
	if h == nil {
		return nil, apperr.Validationf(op, "no session handle")
	}

	target := m.profile.BaseURL() + r.Path
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}
	var body io.Reader
	if r.Body != nil {
		b, err := json.Marshal(r.Body)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindValidation, op, err)
		}
		body = bytes.NewReader(b)
	}

	status, data, err := m.send(ctx, m.client, op, r.Method, target, body, func(req *http.Request) {
		h.Attach(req)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	})
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, apperr.SessionExpired(op, status)
	case status < 200 || status >= 300:
		return nil, apperr.UpstreamStatus(op, status, snippet(data))
	case looksLikeLoginPage(data):
		return nil, apperr.SessionExpired(op, status)
	}
	return &Response{Status: status, Body: data, op: op}, nil
}

// send performs one HTTP exchange bounded by the profile request timeout.
func (m *Manager) send(ctx context.Context, client *http.Client, op, method, target string, body io.Reader, prepare func(*http.Request)) (int, []byte, error) {
	rctx, cancel := context.WithTimeout(ctx, m.profile.RequestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, method, target, body)
	if err != nil {
		return 0, nil, apperr.Wrap(apperr.KindValidation, op, err)
	}
	if prepare != nil {
		prepare(req)
	}

	resp, err := client.Do(req)
	if err != nil {
		if rctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			return 0, nil, apperr.FromContext(op, context.DeadlineExceeded)
		}
		return 0, nil, apperr.Wrap(apperr.KindConnection, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if rctx.Err() != nil {
			return 0, nil, apperr.FromContext(op, context.DeadlineExceeded)
		}
		return 0, nil, apperr.Wrap(apperr.KindConnection, op, err)
	}
	return resp.StatusCode, data, nil
}

func looksLikeLoginPage(body []byte) bool {
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.ToLower(bytes.TrimSpace(head))
	return bytes.HasPrefix(head, []byte("<html")) || bytes.HasPrefix(head, []byte("<!doctype html"))
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		s = "empty response"
	}
	return s
}
