package cache

import (
	"fmt"
	"strings"
)

// NewStorage 按配置的后端名称构建 Storage。
func NewStorage(backend, basePath string) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "disk":
		return NewDiskStorage(basePath)
	case "sqlite":
		return NewSQLiteStorage(basePath)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}
