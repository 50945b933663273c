package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/apphub/backend/internal/config"
	"github.com/apphub/backend/internal/core/ports"
	"github.com/apphub/backend/internal/domain"
	"github.com/apphub/backend/internal/infrastructure/logger"
)

var (
	ErrTransport     = errors.New("remote: transport failure")
	ErrInvalidAPIKey = errors.New("remote: api key must be 32 characters")
	ErrEmptyTaskID   = errors.New("remote: backend returned no task id")
)

// APIKeyLength is the only key length the backend issues.
const APIKeyLength = 32

const (
	pathAccountStatus = "/uc/openapi/accountStatus"
	pathWebappInfo    = "/api/webapp/apiCallDemo"
	pathRun           = "/task/openapi/ai-app/run"
	pathStatus        = "/task/openapi/status"
	pathCancel        = "/task/openapi/cancel"
	pathOutputs       = "/task/openapi/outputs"
	pathUpload        = "/task/openapi/upload"
)

// Envelope is the uniform response shape of every backend call.
type Envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client talks to the RunningHub open API.
type Client struct {
	baseURL    string
	hostHeader string
	http       *http.Client
	log        *logger.Logger
	exchanges  *ExchangeLog
}

var _ ports.RemoteClient = (*Client)(nil)

func NewClient(cfg config.RemoteConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		hostHeader: cfg.HostHeader,
		http:       &http.Client{Timeout: cfg.Timeout},
		log:        log,
		exchanges:  NewExchangeLog(cfg.ExchangeLog),
	}
}

func (c *Client) Exchanges() []Exchange {
	return c.exchanges.Recent()
}

// ValidateAPIKey rejects keys of the wrong shape before any network call.
func ValidateAPIKey(key string) error {
	if len(strings.TrimSpace(key)) != APIKeyLength {
		return ErrInvalidAPIKey
	}
	return nil
}

func (c *Client) AccountStatus(ctx context.Context, apiKey string) (*domain.AccountStatus, error) {
	if err := ValidateAPIKey(apiKey); err != nil {
		return nil, err
	}
	var status domain.AccountStatus
	if err := c.postJSON(ctx, pathAccountStatus, map[string]string{"apikey": apiKey}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) WebappInfo(ctx context.Context, apiKey, webappID string) (*domain.WebappInfo, error) {
	q := url.Values{}
	q.Set("apiKey", apiKey)
	q.Set("webappId", webappID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathWebappInfo+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	var info domain.WebappInfo
	if err := c.do(req, "", &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) RunTask(ctx context.Context, payload domain.RunPayload) (string, error) {
	var data struct {
		TaskID domain.FlexString `json:"taskId"`
	}
	if err := c.postJSON(ctx, pathRun, payload, &data); err != nil {
		return "", err
	}
	if data.TaskID == "" {
		return "", ErrEmptyTaskID
	}
	return data.TaskID.String(), nil
}

func (c *Client) TaskStatus(ctx context.Context, apiKey, taskID string) (domain.TaskStatus, error) {
	var status domain.FlexString
	if err := c.postJSON(ctx, pathStatus, taskRequest(apiKey, taskID), &status); err != nil {
		return "", err
	}
	return domain.ParseTaskStatus(status.String()), nil
}

func (c *Client) CancelTask(ctx context.Context, apiKey, taskID string) error {
	return c.postJSON(ctx, pathCancel, taskRequest(apiKey, taskID), nil)
}

func (c *Client) TaskOutputs(ctx context.Context, apiKey, taskID string) ([]domain.TaskOutput, error) {
	var raw []struct {
		FileURL      domain.FlexString `json:"fileUrl"`
		FileType     domain.FlexString `json:"fileType"`
		TaskCostTime domain.FlexString `json:"taskCostTime"`
		NodeID       domain.FlexString `json:"nodeId"`
	}
	if err := c.postJSON(ctx, pathOutputs, taskRequest(apiKey, taskID), &raw); err != nil {
		return nil, err
	}
	outputs := make([]domain.TaskOutput, 0, len(raw))
	for _, o := range raw {
		outputs = append(outputs, domain.TaskOutput{
			FileURL:      o.FileURL.String(),
			FileType:     o.FileType.String(),
			TaskCostTime: o.TaskCostTime.String(),
			NodeID:       o.NodeID.String(),
		})
	}
	return outputs, nil
}

func (c *Client) Upload(ctx context.Context, up ports.UploadRequest) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"apiKey":   up.APIKey,
		"fileType": string(up.FileType),
		"nodeId":   up.NodeID,
		"fileName": up.FileName,
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("failed to write form field: %w", err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(up.FileName)))
	mimeType := up.MIME
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := io.Copy(part, up.Content); err != nil {
		return "", fmt.Errorf("failed to copy file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathUpload, &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var data struct {
		FileName string `json:"fileName"`
	}
	summary := fmt.Sprintf(`{"fileName":%q,"fileType":%q,"nodeId":%q}`, up.FileName, up.FileType, up.NodeID)
	if err := c.do(req, summary, &data); err != nil {
		return "", err
	}
	return data.FileName, nil
}

// Download streams an output URL. The caller closes the body.
func (c *Client) Download(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warnw("remote_download_failed", "url", rawURL, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.log.Warnw("remote_download_failed", "url", rawURL, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: download status %d", ErrTransport, resp.StatusCode)
	}
	return resp.Body, nil
}

func taskRequest(apiKey, taskID string) map[string]string {
	return map[string]string{"apiKey": apiKey, "taskId": taskID}
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, string(body), out)
}

// do sends req, records the exchange and decodes the envelope data into out.
// Non-zero codes come back as *domain.APIError.
func (c *Client) do(req *http.Request, reqSummary string, out any) error {
	if c.hostHeader != "" {
		req.Host = c.hostHeader
	}
	start := time.Now()
	ex := Exchange{Time: start, Method: req.Method, URL: req.URL.Path, Request: reqSummary}

	resp, err := c.http.Do(req)
	if err != nil {
		ex.DurationMS = time.Since(start).Milliseconds()
		ex.Response = fmt.Sprintf(`{"code":-1,"msg":%q}`, err.Error())
		c.exchanges.Add(ex)
		c.log.Warnw("remote_request_failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	ex.StatusCode = resp.StatusCode
	ex.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		ex.Response = fmt.Sprintf(`{"code":-1,"msg":%q}`, err.Error())
		c.exchanges.Add(ex)
		return fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	ex.Response = string(raw)
	c.exchanges.Add(ex)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warnw("remote_http_error", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)
		return fmt.Errorf("%w: HTTP %d", ErrTransport, resp.StatusCode)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", ErrTransport, err)
	}
	c.log.Debugw("remote_request_ok", "method", req.Method, "path", req.URL.Path, "code", env.Code, "duration_ms", ex.DurationMS)

	if env.Code != 0 {
		return &domain.APIError{Code: env.Code, Msg: env.Msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decode data: %v", ErrTransport, err)
	}
	return nil
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// EnvelopeFor turns a client error into the wire envelope the browser
// expects: the backend code for application failures, -1 otherwise.
func EnvelopeFor(err error) Envelope {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return Envelope{Code: apiErr.Code, Msg: apiErr.Msg}
	}
	return Envelope{Code: -1, Msg: err.Error()}
}
