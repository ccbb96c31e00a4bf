package origin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/parcel-hub/parcel-hub/internal/parcel"
)

const (
	pathListMine        = "/parcels/me"
	pathListNoPaginated = "/parcels/me/no-pagination"
	maxErrorBody        = 64 * 1024
)

// ErrInvalidEnvelope 表示上游返回了无法识别的 JSON 结构。
var ErrInvalidEnvelope = errors.New("invalid response envelope")

// APIError 携带上游 HTTP 状态与原始 message，Error() 原样返回 message，
// 方便调用方直接展示给用户。
type APIError struct {
	Status  int
	Method  string
	Path    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if text := http.StatusText(e.Status); text != "" {
		return text
	}
	return fmt.Sprintf("origin request failed with status %d", e.Status)
}

// Options 描述构造 Client 所需的依赖；Token 为空时不附带 Authorization。
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Token      func() string
	Logger     *logrus.Logger
}

// ListParams 对应列表接口的 page/limit 参数，零值表示不带该参数。
type ListParams struct {
	Page  int
	Limit int
}

func (p ListParams) query() url.Values {
	values := url.Values{}
	if p.Page > 0 {
		values.Set("page", strconv.Itoa(p.Page))
	}
	if p.Limit > 0 {
		values.Set("limit", strconv.Itoa(p.Limit))
	}
	return values
}

// Client 封装上游 parcel API 的 JSON 协议。
type Client struct {
	base   *url.URL
	http   *http.Client
	token  func() string
	logger *logrus.Logger
}

// New 校验 BaseURL 并构造 Client。
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.BaseURL) == "" {
		return nil, errors.New("origin base url required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse origin base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported origin scheme: %s", base.Scheme)
	}
	client := opts.HTTPClient
	if client == nil {
		client = NewHTTPClient(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		base:   base,
		http:   client,
		token:  opts.Token,
		logger: logger,
	}, nil
}

// ListMine 请求主列表接口 GET /parcels/me。
func (c *Client) ListMine(ctx context.Context, params ListParams) ([]parcel.Parcel, error) {
	return c.list(ctx, pathListMine, params)
}

// ListMineNoPagination 请求不分页接口 GET /parcels/me/no-pagination，Page 字段被忽略。
func (c *Client) ListMineNoPagination(ctx context.Context, params ListParams) ([]parcel.Parcel, error) {
	params.Page = 0
	return c.list(ctx, pathListNoPaginated, params)
}

// Get 读取单个包裹。
func (c *Client) Get(ctx context.Context, id string) (parcel.Parcel, error) {
	var out parcel.Parcel
	data, err := c.do(ctx, http.MethodGet, "/parcels/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return out, err
	}
	if len(data) == 0 || string(data) == "null" {
		return out, fmt.Errorf("parcel %s: %w", id, ErrInvalidEnvelope)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode parcel: %w", err)
	}
	return out, nil
}

// Cancel 调用 PATCH /parcels/cancel/{id}，body 为 {reason}。
func (c *Client) Cancel(ctx context.Context, id, reason string) error {
	body := map[string]string{"reason": reason}
	_, err := c.do(ctx, http.MethodPatch, "/parcels/cancel/"+url.PathEscape(id), nil, body)
	return err
}

// ConfirmDelivery 调用 POST /parcels/{id}/confirm。
func (c *Client) ConfirmDelivery(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPost, "/parcels/"+url.PathEscape(id)+"/confirm", nil, nil)
	return err
}

func (c *Client) list(ctx context.Context, path string, params ListParams) ([]parcel.Parcel, error) {
	data, err := c.do(ctx, http.MethodGet, path, params.query(), nil)
	if err != nil {
		return nil, err
	}
	return decodeList(data)
}

// envelope 是上游统一响应结构 { data, success, message }。
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Success *bool           `json:"success"`
	Message string          `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body interface{}) (json.RawMessage, error) {
	started := time.Now()
	target := *c.base
	target.Path = c.base.Path + path
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != nil {
		if token := c.token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logRequest(method, target.String(), 0, started, err)
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logRequest(method, target.String(), resp.StatusCode, started, err)
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			Status:  resp.StatusCode,
			Method:  method,
			Path:    path,
			Message: extractMessage(raw),
		}
		c.logRequest(method, target.String(), resp.StatusCode, started, apiErr)
		return nil, apiErr
	}

	var env envelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			c.logRequest(method, target.String(), resp.StatusCode, started, err)
			return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
		}
	}
	if env.Success != nil && !*env.Success {
		apiErr := &APIError{Status: resp.StatusCode, Method: method, Path: path, Message: env.Message}
		c.logRequest(method, target.String(), resp.StatusCode, started, apiErr)
		return nil, apiErr
	}

	c.logRequest(method, target.String(), resp.StatusCode, started, nil)
	return env.Data, nil
}

func (c *Client) logRequest(method, target string, status int, started time.Time, err error) {
	fields := logrus.Fields{
		"action":          "origin_request",
		"method":          method,
		"upstream":        target,
		"upstream_status": status,
		"elapsed_ms":      time.Since(started).Milliseconds(),
	}
	if err != nil {
		fields["error"] = err.Error()
		c.logger.WithFields(fields).Warn("origin_request_failed")
		return
	}
	c.logger.WithFields(fields).Debug("origin_request_complete")
}

// decodeList 兼容 data 直接为数组，或被包在 {parcels|data: [...]} 中的两种写法。
func decodeList(data json.RawMessage) ([]parcel.Parcel, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return []parcel.Parcel{}, nil
	}
	if trimmed[0] == '[' {
		var list []parcel.Parcel
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode parcel list: %w", err)
		}
		return list, nil
	}
	var nested struct {
		Parcels []parcel.Parcel `json:"parcels"`
		Data    []parcel.Parcel `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &nested); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if nested.Parcels != nil {
		return nested.Parcels, nil
	}
	if nested.Data != nil {
		return nested.Data, nil
	}
	return []parcel.Parcel{}, nil
}

func extractMessage(raw []byte) string {
	if len(raw) > maxErrorBody {
		raw = raw[:maxErrorBody]
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(raw))
}
