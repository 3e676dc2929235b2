package cache

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Writer 承载与请求解耦的后台任务：即发即忘的缓存写入与后台再验证。
// 任务使用构造时的根 context，不随请求结束而取消；错误与 panic 在任务边界被记录后丢弃，
// 永远不会回传给触发它的调用方。Wait 用于进程退出前等待在途写入完成。
type Writer struct {
	base   context.Context
	logger *logrus.Entry
	group  conc.WaitGroup
}

// NewWriter 构造后台写入器，base 通常是进程级 context。
func NewWriter(base context.Context, logger *logrus.Entry) *Writer {
	if base == nil {
		base = context.Background()
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Writer{base: context.WithoutCancel(base), logger: logger}
}

// PutDetached 异步写入缓存条目，调用方无需等待结果。
func (w *Writer) PutDetached(store Store, fp Fingerprint, snap *Snapshot) {
	record := snap.Clone()
	w.Go("cache_put", func(ctx context.Context) error {
		return store.Put(ctx, fp, record)
	}, logrus.Fields{"cache_name": store.Name(), "fingerprint": string(fp)})
}

// Go 启动一个分离的后台任务。
func (w *Writer) Go(task string, fn func(ctx context.Context) error, fields logrus.Fields) {
	w.group.Go(func() {
		var err error
		var catcher panics.Catcher
		catcher.Try(func() { err = fn(w.base) })

		entry := w.logger.WithFields(fields).WithField("task", task)
		if recovered := catcher.Recovered(); recovered != nil {
			entry.WithField("panic", fmt.Sprint(recovered.Value)).Error("background_task_panic")
			return
		}
		if err != nil {
			entry.WithError(err).Debug("background_task_failed")
		}
	})
}

// Wait 阻塞直到全部在途任务结束。
func (w *Writer) Wait() {
	w.group.Wait()
}
