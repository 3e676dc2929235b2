package cache

import (
	"context"
	"errors"
)

// Storage 管理全部具名缓存。所有方法均可被多个请求并发调用。
type Storage interface {
	// Open 打开指定名称的缓存，不存在时创建；重复调用是幂等的。
	Open(ctx context.Context, name string) (Store, error)

	// Delete 删除整份缓存及其全部条目，返回该缓存此前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Names 列出当前存在的全部缓存名，顺序不保证。
	Names(ctx context.Context) ([]string, error)

	// Close 释放底层资源。
	Close() error
}

// Store 是一份具名缓存：Fingerprint → Snapshot 的无序映射。
type Store interface {
	Name() string

	// Match 返回已存储的快照副本；未命中返回 ErrNotFound。
	Match(ctx context.Context, fp Fingerprint) (*Snapshot, error)

	// Put 写入或覆盖条目，只接受 GET 指纹。同一指纹的并发写入以最后一次为准。
	Put(ctx context.Context, fp Fingerprint, snap *Snapshot) error

	// Keys 返回缓存中所有条目的指纹。
	Keys(ctx context.Context) ([]Fingerprint, error)

	// Len 返回条目数量，不读取条目内容。
	Len(ctx context.Context) (int, error)
}

var (
	// ErrNotFound 表示缓存条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrMethodNotAllowed 表示试图写入非 GET 请求。
	ErrMethodNotAllowed = errors.New("only GET requests can be stored")
	// ErrStoreDeleted 表示写入时缓存已被整体删除。
	ErrStoreDeleted = errors.New("cache store deleted")
	// ErrInvalidName 表示缓存名不合法。
	ErrInvalidName = errors.New("invalid cache name")
)
