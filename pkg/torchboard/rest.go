// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package torchboard

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// response of the server, with the body fully read.
type response struct {
	StatusCode int
	Body       []byte
}

func (r *response) ok() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// statusError returns an error wrapping ErrUnexpectedStatus if the response is not 2xx.
func (r *response) statusError(endpoint string) error {
	if r.ok() {
		return nil
	}
	msg := strings.TrimSpace(string(r.Body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return errors.Wrapf(ErrUnexpectedStatus, "POST %s: status %d %s: %q",
		endpoint, r.StatusCode, http.StatusText(r.StatusCode), msg)
}

// post sends a POST request to the endpoint and reads the full response body.
// It doesn't check the status.
func (s *Session) post(ctx context.Context, endpoint, contentType string, body io.Reader) (*response, error) {
	target := s.baseURL + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed creating request for %q", target)
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed POST to %q", target)
	}
	defer func() { _ = resp.Body.Close() }()
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed reading response from %q", target)
	}
	klog.V(1).Infof("torchboard: POST %s -> %d (%s)", endpoint, resp.StatusCode, humanize.Bytes(uint64(len(content))))
	return &response{StatusCode: resp.StatusCode, Body: content}, nil
}

// postForm sends data JSON-encoded in the form field "data", and fails on non-2xx statuses.
func (s *Session) postForm(ctx context.Context, endpoint string, data any) (*response, error) {
	resp, err := s.postFormUnchecked(ctx, endpoint, data)
	if err != nil {
		return nil, err
	}
	return resp, resp.statusError(endpoint)
}

func (s *Session) postFormUnchecked(ctx context.Context, endpoint string, data any) (*response, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed encoding data for %q", endpoint)
	}
	form := url.Values{"data": {string(encoded)}}
	return s.post(ctx, endpoint, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

// postJSON sends data as a JSON body, and fails on non-2xx statuses.
func (s *Session) postJSON(ctx context.Context, endpoint string, data any) (*response, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed encoding data for %q", endpoint)
	}
	resp, err := s.post(ctx, endpoint, "application/json", bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	return resp, resp.statusError(endpoint)
}

// postMultipart sends data JSON-encoded in the form field "data", and a file in the field "file"
// with the contents written by writeFile. It fails on non-2xx statuses.
func (s *Session) postMultipart(ctx context.Context, endpoint string, data any, fileName string, writeFile func(w io.Writer) error) (*response, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed encoding data for %q", endpoint)
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err = mw.WriteField("data", string(encoded)); err != nil {
		return nil, errors.Wrap(err, "failed writing multipart field \"data\"")
	}
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return nil, errors.Wrap(err, "failed creating multipart field \"file\"")
	}
	if err = writeFile(part); err != nil {
		return nil, err
	}
	if err = mw.Close(); err != nil {
		return nil, errors.Wrap(err, "failed closing multipart body")
	}
	klog.V(1).Infof("torchboard: uploading %q to %s (%s)", fileName, endpoint, humanize.Bytes(uint64(body.Len())))
	resp, err := s.post(ctx, endpoint, mw.FormDataContentType(), &body)
	if err != nil {
		return nil, err
	}
	return resp, resp.statusError(endpoint)
}

// insertRows adds one row to a table through the "postgres/insertRows" endpoint.
func (s *Session) insertRows(ctx context.Context, table string, rows ...[]any) error {
	_, err := s.postJSON(ctx, EndpointInsertRows, map[string]any{
		"table_name": table,
		"rows":       rows,
	})
	if err != nil {
		return errors.WithMessagef(err, "inserting into table %q", table)
	}
	return nil
}
