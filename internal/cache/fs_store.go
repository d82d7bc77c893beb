package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DiskOpener 以 basePath 为根目录，每个命名缓存占用 basePath/<name> 子目录。
func DiskOpener(basePath string) Opener {
	return func(ctx context.Context, name string) (Store, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return NewDiskStore(filepath.Join(basePath, name))
	}
}

// NewDiskStore 构建磁盘缓存，目录不存在时自动创建。
func NewDiskStore(dir string) (Store, error) {
	if dir == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{basePath: abs, now: time.Now}, nil
}

// fileStore 每个键对应一个记录文件，写入通过临时文件 + rename 原子替换，
// 并发写入同一个键时以最后完成的 rename 为准。
type fileStore struct {
	basePath string
	now      func() time.Time
}

func (s *fileStore) Get(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeEntry(data)
}

func (s *fileStore) Put(ctx context.Context, key Key, resp *Response) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("response required")
	}

	entry := newEntry(key, resp, s.now())
	data, err := encodeEntry(entry)
	if err != nil {
		return nil, err
	}

	filePath := s.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".cache-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, err
	}
	return entry, nil
}

func (s *fileStore) Close() error {
	return nil
}

// entryPath 以键的 sha1 作为文件名，避免 URL 路径中的目录/文件冲突。
func (s *fileStore) entryPath(key Key) string {
	sum := sha1.Sum([]byte(key))
	name := hex.EncodeToString(sum[:])
	return filepath.Join(s.basePath, name[:2], name+".entry")
}
