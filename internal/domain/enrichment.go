package domain

// Enrichment 表示推理服务返回的富化结果。
// 分类是开放集合，常见类别见下方常量；推理失败时使用 DefaultEnrichment，
// 富化是尽力而为的，绝不阻塞邮件入箱。
type Enrichment struct {
	Summary     string   `json:"summary"`
	Category    string   `json:"category"`
	Sentiment   float64  `json:"sentiment"` // 情感评分，区间 [-1,1]
	ActionItems []string `json:"actionItems"`
}

// 常见邮件类别。
const (
	CategoryWork     = "Work"
	CategoryPersonal = "Personal"
	CategoryFinance  = "Finance"
	CategorySpam     = "Spam"
	CategoryInbox    = "Inbox"
)

// DefaultEnrichment 返回推理不可用时的兜底结果。
func DefaultEnrichment() *Enrichment {
	return &Enrichment{
		Summary:     "",
		Category:    CategoryInbox,
		Sentiment:   0,
		ActionItems: nil,
	}
}
