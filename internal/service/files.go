package service

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"chatrelay/pkg/types"
)

// StoredFile describes an attachment written under the upload root.
type StoredFile struct {
	Path string
	Name string
	Size int64
	Type types.MessageType
}

// FileService stores and serves attachments under one root directory.
type FileService struct {
	root    string
	absRoot string
	logger  *zap.Logger
}

var fileCategories = []string{"images", "files", "videos", "audio"}

// NewFileService creates root and its category subdirectories.
func NewFileService(root string, logger *zap.Logger) (*FileService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "resolve upload dir")
	}
	for _, dir := range fileCategories {
		if err := os.MkdirAll(filepath.Join(abs, dir), 0o755); err != nil {
			return nil, errors.Wrapf(err, "create upload dir %s", dir)
		}
	}
	return &FileService{root: root, absRoot: abs, logger: logger.Named("files")}, nil
}

// Save decodes base64 data and writes it under the directory for
// fileType, using a fresh name that keeps the original extension.
func (s *FileService) Save(fileName, data, fileType string) (*StoredFile, error) {
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return nil, ErrMissingFileName
	}
	msgType, err := types.ParseMessageType(fileType)
	if err != nil {
		return nil, invalid(err)
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, ErrInvalidFileData
	}

	stored := uuid.NewString() + filepath.Ext(fileName)
	rel := filepath.Join(s.root, types.FileCategory(msgType), stored)
	if err := os.WriteFile(filepath.Join(s.absRoot, types.FileCategory(msgType), stored), raw, 0o644); err != nil {
		return nil, errors.Wrap(err, "write upload")
	}

	s.logger.Info("file stored", zap.String("path", rel), zap.Int("size", len(raw)))
	return &StoredFile{
		Path: filepath.ToSlash(rel),
		Name: fileName,
		Size: int64(len(raw)),
		Type: msgType,
	}, nil
}

// Read returns the base64 content of a stored file. Paths outside the
// upload root are refused.
func (s *FileService) Read(path string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(full)
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrFileNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "read upload")
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// resolve accepts paths as returned by Save, or relative to the root.
func (s *FileService) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", ErrInvalidFilePath
	}

	candidates := []string{filepath.Join(s.absRoot, filepath.FromSlash(path))}
	if abs, err := filepath.Abs(filepath.FromSlash(path)); err == nil {
		candidates = append([]string{abs}, candidates...)
	}
	for _, c := range candidates {
		if within(s.absRoot, c) {
			if _, err := os.Stat(c); err == nil {
				return c, nil
			}
		}
	}
	for _, c := range candidates {
		if within(s.absRoot, c) {
			return c, nil
		}
	}
	return "", ErrInvalidFilePath
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// Remove deletes a file written by Save. Missing files are not an error.
func (s *FileService) Remove(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "remove upload")
	}
	return nil
}
