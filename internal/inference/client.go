package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mailsage/backend/internal/domain"
)

// Client 推理服务 HTTP 客户端。
// 分类与向量化都是可选依赖：调用方必须把任何错误降级处理，
// 推理不可用绝不能阻塞邮件入箱。
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient 创建推理服务客户端。
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second // 默认 5 秒超时，避免 Worker 卡死
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type classifyRequest struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Classify 提交主题与正文前缀，请求结构化分类结果。
func (c *Client) Classify(ctx context.Context, subject, bodyPrefix string) (*domain.Enrichment, error) {
	var result domain.Enrichment
	err := c.post(ctx, "/v1/classify", classifyRequest{
		Subject: subject,
		Body:    bodyPrefix,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Vector []float32 `json:"vector"`
}

// Embed 计算文本的语义向量。
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var result embedResponse
	if err := c.post(ctx, "/v1/embed", embedRequest{Text: text}, &result); err != nil {
		return nil, err
	}
	if len(result.Vector) == 0 {
		return nil, fmt.Errorf("inference service returned empty vector")
	}
	return result.Vector, nil
}

// post 发送 JSON POST 请求并解码响应。
func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call inference service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("inference service 5xx: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inference service error: %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
