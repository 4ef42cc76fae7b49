package httptransport

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailsage/backend/internal/service"
	"mailsage/backend/internal/storage"
)

// Handler 聚合所有 HTTP 处理逻辑。
type Handler struct {
	provision *service.ProvisionService
	messages  *service.MessageService
	logger    *zap.Logger
}

// NewHandler 创建 HTTP 处理器。
func NewHandler(provision *service.ProvisionService, messages *service.MessageService, logger *zap.Logger) *Handler {
	return &Handler{
		provision: provision,
		messages:  messages,
		logger:    logger,
	}
}

type createAccountRequest struct {
	Handle string `json:"handle" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

// CreateAccount 创建账户
// POST /v1/accounts
func (h *Handler) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误")
		return
	}

	account, err := h.provision.CreateAccount(c.Request.Context(), service.CreateAccountInput{
		Handle: req.Handle,
		Secret: req.Secret,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrHandleInvalid), errors.Is(err, service.ErrSecretTooShort):
			BadRequest(c, err.Error())
		case errors.Is(err, storage.ErrHandleExists):
			Conflict(c, "账户标识已存在")
		default:
			h.logger.Error("failed to create account", zap.Error(err))
			InternalError(c)
		}
		return
	}

	// 不回传凭据哈希
	account.CredentialHash = ""
	Created(c, account)
}

type addAliasRequest struct {
	Address     string `json:"address" binding:"required"`
	DisplayName string `json:"displayName"`
	IsPrimary   bool   `json:"isPrimary"`
}

// AddAlias 添加别名
// POST /v1/accounts/:accountId/aliases
func (h *Handler) AddAlias(c *gin.Context) {
	var req addAliasRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误")
		return
	}

	alias, err := h.provision.AddAlias(c.Request.Context(), service.AddAliasInput{
		AccountID:   c.Param("accountId"),
		Address:     req.Address,
		DisplayName: req.DisplayName,
		IsPrimary:   req.IsPrimary,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAddressInvalid):
			BadRequest(c, err.Error())
		case errors.Is(err, storage.ErrAccountNotFound):
			NotFound(c, "账户不存在")
		case errors.Is(err, storage.ErrAliasExists):
			Conflict(c, "别名已存在")
		default:
			h.logger.Error("failed to add alias", zap.Error(err))
			InternalError(c)
		}
		return
	}

	Created(c, alias)
}

type addForwardingRuleRequest struct {
	Match     string `json:"match" binding:"required"`
	Pattern   string `json:"pattern"`
	ForwardTo string `json:"forwardTo" binding:"required"`
}

// AddForwardingRule 添加转发规则
// POST /v1/accounts/:accountId/forwarding-rules
func (h *Handler) AddForwardingRule(c *gin.Context) {
	var req addForwardingRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误")
		return
	}

	rule, err := h.provision.AddForwardingRule(c.Request.Context(), service.AddForwardingRuleInput{
		AccountID: c.Param("accountId"),
		Match:     req.Match,
		Pattern:   req.Pattern,
		ForwardTo: req.ForwardTo,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMatchInvalid), errors.Is(err, service.ErrAddressInvalid):
			BadRequest(c, err.Error())
		case errors.Is(err, storage.ErrAccountNotFound):
			NotFound(c, "账户不存在")
		default:
			h.logger.Error("failed to add forwarding rule", zap.Error(err))
			InternalError(c)
		}
		return
	}

	Created(c, rule)
}

type scheduleSendRequest struct {
	From    string    `json:"from" binding:"required"`
	To      string    `json:"to" binding:"required"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	DueAt   time.Time `json:"dueAt" binding:"required"`
}

// ScheduleSend 创建定时发送
// POST /v1/accounts/:accountId/scheduled-sends
func (h *Handler) ScheduleSend(c *gin.Context) {
	var req scheduleSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误")
		return
	}

	send, err := h.provision.ScheduleSend(c.Request.Context(), service.ScheduleSendInput{
		AccountID: c.Param("accountId"),
		From:      req.From,
		To:        req.To,
		Subject:   req.Subject,
		Body:      req.Body,
		DueAt:     req.DueAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDueAtInPast), errors.Is(err, service.ErrAddressInvalid):
			BadRequest(c, err.Error())
		case errors.Is(err, storage.ErrAccountNotFound):
			NotFound(c, "账户不存在")
		default:
			h.logger.Error("failed to schedule send", zap.Error(err))
			InternalError(c)
		}
		return
	}

	Created(c, send)
}

// ListMessages 列出账户邮件
// GET /v1/accounts/:accountId/messages
func (h *Handler) ListMessages(c *gin.Context) {
	messages, err := h.messages.List(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		InternalError(c)
		return
	}
	Success(c, messages)
}

// GetMessage 获取单封邮件
// GET /v1/accounts/:accountId/messages/:messageId
func (h *Handler) GetMessage(c *gin.Context) {
	message, err := h.messages.Get(c.Request.Context(), c.Param("accountId"), c.Param("messageId"))
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, "邮件不存在")
			return
		}
		h.logger.Error("failed to get message", zap.Error(err))
		InternalError(c)
		return
	}
	Success(c, message)
}

// GetRawMessage 下载原始邮件
// GET /v1/accounts/:accountId/messages/:messageId/raw
func (h *Handler) GetRawMessage(c *gin.Context) {
	raw, err := h.messages.Raw(c.Request.Context(), c.Param("accountId"), c.Param("messageId"))
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, "邮件不存在")
			return
		}
		h.logger.Error("failed to load raw message", zap.Error(err))
		InternalError(c)
		return
	}
	c.Data(http.StatusOK, "message/rfc822", raw)
}

// MarkMessageRead 标记邮件已读
// POST /v1/accounts/:accountId/messages/:messageId/read
func (h *Handler) MarkMessageRead(c *gin.Context) {
	err := h.messages.MarkRead(c.Request.Context(), c.Param("accountId"), c.Param("messageId"))
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, "邮件不存在")
			return
		}
		h.logger.Error("failed to mark message read", zap.Error(err))
		InternalError(c)
		return
	}
	Success(c, nil)
}

type moveMessageRequest struct {
	Folder string `json:"folder" binding:"required"`
}

// MoveMessage 移动邮件目录
// POST /v1/accounts/:accountId/messages/:messageId/move
func (h *Handler) MoveMessage(c *gin.Context) {
	var req moveMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求参数错误")
		return
	}

	err := h.messages.Move(c.Request.Context(), c.Param("accountId"), c.Param("messageId"), req.Folder)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrFolderInvalid):
			BadRequest(c, err.Error())
		case errors.Is(err, storage.ErrMessageNotFound):
			NotFound(c, "邮件不存在")
		default:
			h.logger.Error("failed to move message", zap.Error(err))
			InternalError(c)
		}
		return
	}
	Success(c, nil)
}

// GetAttachment 下载附件
// GET /v1/accounts/:accountId/messages/:messageId/attachments/:attachmentId
func (h *Handler) GetAttachment(c *gin.Context) {
	att, err := h.messages.AttachmentContent(c.Request.Context(), c.Param("messageId"), c.Param("attachmentId"))
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			NotFound(c, "附件不存在")
			return
		}
		h.logger.Error("failed to load attachment", zap.Error(err))
		InternalError(c)
		return
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", `attachment; filename="`+att.Filename+`"`)
	c.Data(http.StatusOK, contentType, att.Content)
}
