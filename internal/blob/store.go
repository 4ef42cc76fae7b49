package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrNotFound 键不存在错误
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidKey 非法键错误
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store 定义按键寻址的原始字节存储。
// 键按用途与 ID 组成命名空间，不要求版本管理。
type Store interface {
	Put(key string, data []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
}

// RawMessageKey 返回原始邮件字节的存储键。
func RawMessageKey(messageID string) string {
	return fmt.Sprintf("raw/%s.eml", messageID)
}

// AttachmentKey 返回附件载荷的存储键，以邮件 ID 作为命名空间。
func AttachmentKey(messageID, attachmentID string) string {
	return fmt.Sprintf("attachments/%s/%s", messageID, attachmentID)
}

// FilesystemStore 文件系统 Blob 存储实现。
type FilesystemStore struct {
	basePath string
}

// NewFilesystemStore 创建文件系统 Blob 存储实例。
func NewFilesystemStore(basePath string) (*FilesystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("blob base path must not be empty")
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob base directory: %w", err)
	}

	return &FilesystemStore{basePath: filepath.Clean(basePath)}, nil
}

// Put 写入字节到指定键，已存在时覆盖。
func (s *FilesystemStore) Put(key string, data []byte) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	// 先写临时文件再原子重命名，避免读到半截内容
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return nil
}

// Get 读取指定键的字节，键不存在返回 ErrNotFound。
func (s *FilesystemStore) Get(key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// Delete 删除指定键，键不存在时静默成功。
func (s *FilesystemStore) Delete(key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// resolve 将键映射为基目录下的文件路径，并拒绝路径逃逸。
func (s *FilesystemStore) resolve(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	return filepath.Join(s.basePath, filepath.FromSlash(key)), nil
}
