package domain

// IngestionJob 是摄入管道的队列载荷。
// 它只存在于网关与富化 Worker 之间的消息队列上，从不落库；
// ID 即未来 Message 的 ID，在网关分配后保持不变。
type IngestionJob struct {
	ID        string `json:"id"`        // 即 Message ID
	AccountID string `json:"accountId"` // 路由解析出的所属账户
	To        string `json:"to"`        // 信封收件地址
	From      string `json:"from"`      // 信封发件地址
	Raw       []byte `json:"raw"`       // 原始邮件字节（JSON 传输时 base64 编码）
}
