package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Index 定义向量索引的写入接口。
// 管道内只有写入路径；相似度检索是外部协作方的事。
type Index interface {
	Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error
}

// HTTPIndex 向量索引服务的 HTTP 客户端。
type HTTPIndex struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

// NewHTTPIndex 创建向量索引客户端。
func NewHTTPIndex(baseURL, collection string, timeout time.Duration) *HTTPIndex {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPIndex{
		baseURL:    baseURL,
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type upsertRequest struct {
	Collection string            `json:"collection"`
	ID         string            `json:"id"`
	Vector     []float32         `json:"vector"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Upsert 以邮件 ID 为键写入向量，可附带分类元数据标签。
func (x *HTTPIndex) Upsert(ctx context.Context, id string, vector []float32, metadata map[string]string) error {
	body, err := json.Marshal(upsertRequest{
		Collection: x.collection,
		ID:         id,
		Vector:     vector,
		Metadata:   metadata,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.baseURL+"/v1/upsert", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call vector index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vector index error: %d", resp.StatusCode)
	}
	return nil
}
