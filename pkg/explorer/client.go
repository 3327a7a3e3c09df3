package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/filevault/filevault/internal/metadata"
)

// Upload is one file handed to UploadFiles.
type Upload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Client is the transport the explorer state machine talks through.
// Implementations return APIError for non-2xx service responses.
type Client interface {
	List(ctx context.Context, account string, path []string) ([]Entry, error)
	CreateFolder(ctx context.Context, account string, path []string) (string, error)
	UploadFile(ctx context.Context, account string, path []string, upload Upload) (Entry, error)
	DeleteItem(ctx context.Context, account string, path []string, name string) error
	DeleteFolder(ctx context.Context, account string, path []string) error
}

// APIError is a non-2xx response from the storage service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("storage service: %s (status %d)", e.Message, e.Status)
}

// HTTPClient talks to a FileVault server over HTTP.
type HTTPClient struct {
	baseURL string
	actor   string
	http    *http.Client
}

// NewHTTPClient creates a client for the service at baseURL (no
// trailing slash). actor is sent as the X-User-Id header on every
// request.
func NewHTTPClient(baseURL, actor string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		actor:   actor,
		http:    &http.Client{},
	}
}

func joinURLPath(account string, path []string, extra ...string) string {
	segs := append([]string{account}, path...)
	segs = append(segs, extra...)
	escaped := make([]string, 0, len(segs))
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		escaped = append(escaped, url.PathEscape(seg))
	}
	return strings.Join(escaped, "/")
}

func (c *HTTPClient) do(ctx context.Context, method, target string, body []byte, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-User-Id", c.actor)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: resp.Status}
		var payload struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&payload) == nil && payload.Error != "" {
			apiErr.Message = payload.Error
		}
		return apiErr
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *HTTPClient) List(ctx context.Context, account string, path []string) ([]Entry, error) {
	target := c.baseURL + "/storage/list/" + joinURLPath(account, path)
	var entries []Entry
	if err := c.do(ctx, http.MethodGet, target, nil, nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *HTTPClient) CreateFolder(ctx context.Context, account string, path []string) (string, error) {
	target := c.baseURL + "/storage/list/" + joinURLPath(account, path)
	var out struct {
		Folder string `json:"folder"`
	}
	headers := map[string]string{"Content-Type": "application/x-directory"}
	if err := c.do(ctx, http.MethodPut, target, nil, headers, &out); err != nil {
		return "", err
	}
	return out.Folder, nil
}

func (c *HTTPClient) UploadFile(ctx context.Context, account string, path []string, upload Upload) (Entry, error) {
	contentType := upload.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	target := c.baseURL + "/storage/item/" + joinURLPath(account, path, upload.Name)
	headers := map[string]string{
		"Content-Type": contentType,
		"X-File-Name":  url.QueryEscape(upload.Name),
	}

	var out struct {
		Key  string                   `json:"key"`
		Meta *metadata.ObjectMetadata `json:"meta"`
	}
	if err := c.do(ctx, http.MethodPost, target, upload.Data, headers, &out); err != nil {
		return Entry{}, err
	}

	entry := Entry{
		Key:  out.Key,
		Name: upload.Name,
		Meta: out.Meta,
	}
	if out.Meta != nil {
		entry.Size = out.Meta.Size
		entry.Type = out.Meta.ContentType
	}
	return entry, nil
}

func (c *HTTPClient) DeleteItem(ctx context.Context, account string, path []string, name string) error {
	target := c.baseURL + "/storage/item/" + joinURLPath(account, path, name)
	return c.do(ctx, http.MethodDelete, target, nil, nil, nil)
}

func (c *HTTPClient) DeleteFolder(ctx context.Context, account string, path []string) error {
	target := c.baseURL + "/storage/list/" + joinURLPath(account, path)
	return c.do(ctx, http.MethodDelete, target, nil, nil, nil)
}
