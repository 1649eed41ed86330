package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/driftline/driftline/model"
)

// HTTPClient implements Client over the service's JSON HTTP API. Requests
// pass through a shared rate limiter so paginated prefetches cannot starve
// interactive writes of their quota.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// HTTPClientConfig configures an HTTPClient.
type HTTPClientConfig struct {
	BaseURL   string
	AuthToken string

	// RatePerSecond caps outbound requests. Default: 8.
	RatePerSecond int

	// Timeout for a single request. Default: 30s.
	Timeout time.Duration
}

// NewHTTPClient creates a client for the remote service.
func NewHTTPClient(config HTTPClientConfig, logger *zap.Logger) *HTTPClient {
	if config.RatePerSecond <= 0 {
		config.RatePerSecond = 8
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		baseURL:   config.BaseURL,
		authToken: config.AuthToken,
		limiter:   rate.NewLimiter(rate.Limit(config.RatePerSecond), config.RatePerSecond*2),
		logger:    logger,
	}
}

var _ Client = (*HTTPClient)(nil)

// ListConversations implements ConversationLister.
func (c *HTTPClient) ListConversations(ctx context.Context, req PageRequest) (model.CursorList[model.ConvoView], error) {
	var body struct {
		Convos []wireConvo `json:"convos"`
		Cursor *string     `json:"cursor"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/chat/convos", pageQuery(req), nil, &body); err != nil {
		return model.CursorList[model.ConvoView]{}, err
	}

	page := model.CursorList[model.ConvoView]{NextCursor: toCursor(body.Cursor)}
	for _, convo := range body.Convos {
		page.Items = append(page.Items, convo.toModel())
	}
	return page, nil
}

// GetMessages implements MessagePager.
func (c *HTTPClient) GetMessages(ctx context.Context, convoID model.ConversationID, req PageRequest) (model.CursorList[model.MessagePageItem], error) {
	var body struct {
		Messages []wireMessageItem `json:"messages"`
		Cursor   *string           `json:"cursor"`
	}
	path := "/v1/chat/convos/" + url.PathEscape(string(convoID)) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, pageQuery(req), nil, &body); err != nil {
		return model.CursorList[model.MessagePageItem]{}, err
	}

	page := model.CursorList[model.MessagePageItem]{NextCursor: toCursor(body.Cursor)}
	for _, item := range body.Messages {
		if converted := item.toModel(); converted != nil {
			page.Items = append(page.Items, converted)
		}
	}
	return page, nil
}

// GetLog implements LogSource.
func (c *HTTPClient) GetLog(ctx context.Context, cursor model.Cursor) (LogPage, error) {
	query := url.Values{}
	if !cursor.IsInitial() {
		query.Set("cursor", string(cursor))
	}

	var body struct {
		Logs   []wireLogEntry `json:"logs"`
		Cursor string         `json:"cursor"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/chat/log", query, nil, &body); err != nil {
		return LogPage{}, err
	}

	page := LogPage{Cursor: model.Cursor(body.Cursor)}
	for _, entry := range body.Logs {
		page.Entries = append(page.Entries, entry.toModel())
	}
	return page, nil
}

// SendMessage implements MessageWriter.
func (c *HTTPClient) SendMessage(ctx context.Context, convoID model.ConversationID, input MessageInput) (*model.MessageView, error) {
	request := map[string]any{"text": input.Text}
	var body wireMessage
	path := "/v1/chat/convos/" + url.PathEscape(string(convoID)) + "/messages"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, request, &body); err != nil {
		return nil, err
	}
	view := body.toModel()
	return &view, nil
}

// AddReaction implements MessageWriter.
func (c *HTTPClient) AddReaction(ctx context.Context, convoID model.ConversationID, messageID model.MessageID, value string) (*model.MessageView, error) {
	return c.updateReaction(ctx, http.MethodPost, convoID, messageID, value)
}

// RemoveReaction implements MessageWriter.
func (c *HTTPClient) RemoveReaction(ctx context.Context, convoID model.ConversationID, messageID model.MessageID, value string) (*model.MessageView, error) {
	return c.updateReaction(ctx, http.MethodDelete, convoID, messageID, value)
}

func (c *HTTPClient) updateReaction(ctx context.Context, method string, convoID model.ConversationID, messageID model.MessageID, value string) (*model.MessageView, error) {
	request := map[string]any{
		"convoId":   string(convoID),
		"messageId": string(messageID),
		"value":     value,
	}
	var body struct {
		Message wireMessage `json:"message"`
	}
	if err := c.doJSON(ctx, method, "/v1/chat/reactions", nil, request, &body); err != nil {
		return nil, err
	}
	view := body.Message.toModel()
	return &view, nil
}

// CreateRecord implements RecordWriter.
func (c *HTTPClient) CreateRecord(ctx context.Context, req CreateRecordRequest) (*RecordRef, error) {
	request := map[string]any{
		"collection": req.Collection,
		"subjectId":  req.SubjectID,
		"subjectUri": req.SubjectURI,
	}
	var body struct {
		URI string `json:"uri"`
		Key string `json:"key"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/records", nil, request, &body); err != nil {
		return nil, err
	}
	return &RecordRef{URI: body.URI, Key: body.Key}, nil
}

// DeleteRecord implements RecordWriter.
func (c *HTTPClient) DeleteRecord(ctx context.Context, req DeleteRecordRequest) error {
	request := map[string]any{
		"collection": req.Collection,
		"key":        req.Key,
	}
	return c.doJSON(ctx, http.MethodDelete, "/v1/records", nil, request, nil)
}

// doJSON performs one request and decodes the response, mapping transport
// and status failures onto the package's error taxonomy.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, query url.Values, requestBody, responseBody any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("remote request", zap.String("method", method), zap.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &TransportError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("server returned %d", resp.StatusCode),
		}
	default:
		return decodeValidationError(resp.StatusCode, raw)
	}

	if responseBody == nil {
		return nil
	}
	if err := json.Unmarshal(raw, responseBody); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func decodeValidationError(status int, raw []byte) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Message == "" {
		body.Message = string(raw)
	}
	return &ValidationError{Status: status, Code: body.Error, Message: body.Message}
}

func pageQuery(req PageRequest) url.Values {
	query := url.Values{}
	if !req.Cursor.IsInitial() {
		query.Set("cursor", string(req.Cursor))
	}
	if req.Limit > 0 {
		query.Set("limit", strconv.Itoa(req.Limit))
	}
	return query
}

func toCursor(raw *string) *model.Cursor {
	if raw == nil || *raw == "" {
		return nil
	}
	cursor := model.Cursor(*raw)
	return &cursor
}
