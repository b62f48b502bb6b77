package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fahadfarid28/home-sub000/internal/errors"
	"github.com/fahadfarid28/home-sub000/internal/objectstore"
	"github.com/fahadfarid28/home-sub000/internal/pak"
)

// MissingRequest is the body of POST /v1/missing.
type MissingRequest struct {
	Keys []string `json:"keys"`
}

// MissingResponse is the answer to POST /v1/missing.
type MissingResponse struct {
	Missing []string `json:"missing"`
}

// ErrorResponse is the body of every non-2xx authority response.
type ErrorResponse struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

// Client talks to a remote authority over HTTP.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient creates a client for the authority at baseURL. token is sent as
// a bearer token when set.
func NewClient(baseURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "invalid compute authority URL")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "compute authority URL must be http or https").WithPath(baseURL)
	}

	return &Client{base: u, token: token, http: &http.Client{Timeout: timeout}}, nil
}

// Derive implements Authority.
func (c *Client) Derive(ctx context.Context, req DeriveRequest) (DeriveResponse, error) {
	var resp DeriveResponse
	err := c.doJSON(ctx, http.MethodPost, "/v1/derive", req, &resp)

	return resp, err
}

// ListMissing implements Authority.
func (c *Client) ListMissing(ctx context.Context, keys []string) ([]string, error) {
	var resp MissingResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v1/missing", MissingRequest{Keys: keys}, &resp); err != nil {
		return nil, err
	}

	return resp.Missing, nil
}

// PutObject implements Authority.
func (c *Client) PutObject(ctx context.Context, key string, data []byte) error {
	_, err := c.do(ctx, http.MethodPut, "/v1/objects/"+key, "application/octet-stream", data, nil)
	return err
}

// PutRevision implements Authority.
func (c *Client) PutRevision(ctx context.Context, id pak.RevisionID, data []byte) error {
	_, err := c.do(ctx, http.MethodPut, "/v1/revisions/"+url.PathEscape(id.String()), "application/msgpack", data, nil)
	return err
}

// Tier exposes the authority's store as a read-mostly objectstore tier, for
// clients that have no credentials for the durable store.
func (c *Client) Tier() objectstore.Tier {
	return &remoteTier{c: c}
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.NewInternalError(errors.ErrCodeSerialization, "encoding authority request", err)
	}

	data, err := c.do(ctx, method, path, "application/json", body, nil)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.NewIOError(errors.ErrCodeSerialization, "decoding authority response", err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInternalError, "building authority request", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if contentType != "" && body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeRemoteUnavailable, method+" "+path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeRemoteUnavailable, "reading authority response", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	return nil, decodeError(resp.StatusCode, path, data)
}

// decodeError rebuilds a typed error from an authority error response.
func decodeError(status int, path string, body []byte) error {
	var er ErrorResponse
	if json.Unmarshal(body, &er) != nil || er.Type == "" {
		er = ErrorResponse{Message: strings.TrimSpace(string(body))}
	}

	typ := errors.ErrorType(er.Type)
	if typ == "" {
		switch status {
		case http.StatusNotFound:
			typ = errors.ErrorTypeNotFound
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			typ = errors.ErrorTypeValidation
		default:
			typ = errors.ErrorTypeIO
		}
	}
	code := er.Code
	if code == "" {
		code = errors.ErrCodeRemoteUnavailable
	}

	e := &errors.Error{
		Type:    typ,
		Code:    code,
		Message: fmt.Sprintf("authority %s (HTTP %d)", er.Message, status),
		Path:    er.Path,
	}
	if e.Path == "" {
		e.Path = path
	}

	return e
}

// remoteTier reads and writes objects through the authority.
type remoteTier struct {
	c *Client
}

func (t *remoteTier) Name() string { return "authority" }

func (t *remoteTier) Get(ctx context.Context, key string) ([]byte, error) {
	if err := objectstore.ValidateKey(key); err != nil {
		return nil, err
	}

	return t.c.do(ctx, http.MethodGet, "/v1/objects/"+key, "", nil, nil)
}

func (t *remoteTier) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	if err := objectstore.ValidateKey(key); err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))

	return t.c.do(ctx, http.MethodGet, "/v1/objects/"+key, "", nil, header)
}

func (t *remoteTier) Put(ctx context.Context, key string, data []byte) error {
	return t.c.PutObject(ctx, key, data)
}

func (t *remoteTier) Exists(ctx context.Context, key string) (bool, error) {
	missing, err := t.c.ListMissing(ctx, []string{key})
	if err != nil {
		return false, err
	}

	return len(missing) == 0, nil
}
