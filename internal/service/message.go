package service

import (
	"context"
	"errors"

	"mailsage/backend/internal/blob"
	"mailsage/backend/internal/domain"
	"mailsage/backend/internal/storage"
)

var ErrFolderInvalid = errors.New("folder invalid")

// MessageService 封装邮箱内邮件的读取与整理操作。
type MessageService struct {
	store storage.Store
	blobs blob.Store
}

// NewMessageService 创建邮件业务服务。
func NewMessageService(store storage.Store, blobs blob.Store) *MessageService {
	return &MessageService{store: store, blobs: blobs}
}

// List 返回账户的全部邮件。
func (s *MessageService) List(ctx context.Context, accountID string) ([]domain.Message, error) {
	return s.store.ListMessages(ctx, accountID)
}

// Get 返回单封邮件及附件元数据。
func (s *MessageService) Get(ctx context.Context, accountID, messageID string) (*domain.Message, error) {
	message, err := s.store.GetMessage(ctx, accountID, messageID)
	if err != nil {
		return nil, err
	}

	attachments, err := s.store.ListAttachments(ctx, messageID)
	if err != nil {
		return nil, err
	}
	message.Attachments = attachments

	return message, nil
}

// Raw 返回邮件的原始字节。
func (s *MessageService) Raw(ctx context.Context, accountID, messageID string) ([]byte, error) {
	message, err := s.store.GetMessage(ctx, accountID, messageID)
	if err != nil {
		return nil, err
	}
	return s.blobs.Get(message.RawKey)
}

// MarkRead 标记邮件已读。
func (s *MessageService) MarkRead(ctx context.Context, accountID, messageID string) error {
	return s.store.MarkMessageRead(ctx, accountID, messageID)
}

// Move 移动邮件到指定目录。
func (s *MessageService) Move(ctx context.Context, accountID, messageID, folder string) error {
	switch folder {
	case domain.FolderInbox, domain.FolderArchive:
	default:
		return ErrFolderInvalid
	}
	return s.store.MoveMessage(ctx, accountID, messageID, folder)
}

// AttachmentContent 返回附件的元数据与内容。
func (s *MessageService) AttachmentContent(ctx context.Context, messageID, attachmentID string) (*domain.Attachment, error) {
	attachments, err := s.store.ListAttachments(ctx, messageID)
	if err != nil {
		return nil, err
	}

	for _, att := range attachments {
		if att.ID != attachmentID {
			continue
		}
		content, err := s.blobs.Get(att.BlobKey)
		if err != nil {
			return nil, err
		}
		att.Content = content
		return att, nil
	}

	return nil, storage.ErrMessageNotFound
}
