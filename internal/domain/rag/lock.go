package rag

import (
	"context"
	"sync"
)

// LocalIndexLock 进程内入库锁，未配置 Redis 时使用
type LocalIndexLock struct {
	mu   sync.Mutex
	held map[string]bool
}

var _ IndexLock = (*LocalIndexLock)(nil)

// NewLocalIndexLock 创建进程内锁
func NewLocalIndexLock() *LocalIndexLock {
	return &LocalIndexLock{held: make(map[string]bool)}
}

// Acquire 已被占用时返回 false
func (l *LocalIndexLock) Acquire(_ context.Context, collection string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[collection] {
		return false, nil
	}
	l.held[collection] = true
	return true, nil
}

// Release 释放锁
func (l *LocalIndexLock) Release(_ context.Context, collection string) error {
	l.mu.Lock()
	delete(l.held, collection)
	l.mu.Unlock()
	return nil
}
