package syncagent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nsxzhou1114/bloodlink-api/internal/dto"
	"github.com/nsxzhou1114/bloodlink-api/pkg/response"
)

// APIError 服务端返回的非成功响应
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// APIClient 通知接口客户端
type APIClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPIClient baseURL 形如 http://host:8080/api
func NewAPIClient(baseURL, token string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// ListAfter 拉取 since 之后的通知
func (c *APIClient) ListAfter(ctx context.Context, since time.Time) ([]dto.NotificationResponse, error) {
	q := url.Values{"time": {since.UTC().Format(time.RFC3339Nano)}}
	var out []dto.NotificationResponse
	err := c.do(ctx, http.MethodGet, "/notifications/after?"+q.Encode(), &out)
	return out, err
}

// List 分页拉取全部通知
func (c *APIClient) List(ctx context.Context, page, pageSize int) (*dto.NotificationListResponse, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	var out dto.NotificationListResponse
	if err := c.do(ctx, http.MethodGet, "/notifications?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UnreadCount 未读数量
func (c *APIClient) UnreadCount(ctx context.Context) (int64, error) {
	var out dto.NotificationUnreadCountResponse
	err := c.do(ctx, http.MethodGet, "/notifications/unread-count", &out)
	return out.Count, err
}

// MarkRead 标记单条已读
func (c *APIClient) MarkRead(ctx context.Context, id uint) error {
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/notifications/mark-read/%d", id), nil)
}

// MarkAllRead 标记全部已读
func (c *APIClient) MarkAllRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPatch, "/notifications/mark-all-read", nil)
}

func (c *APIClient) do(ctx context.Context, method, path string, dest interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("请求 %s %s 失败: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}

	var env response.Envelope[json.RawMessage]
	if err := json.Unmarshal(body, &env); err != nil {
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	if resp.StatusCode != http.StatusOK || !env.OK() {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if dest == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("解析响应数据失败: %w", err)
	}
	return nil
}
