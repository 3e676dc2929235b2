package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/strategy"
)

// State 是生命周期状态。
type State string

const (
	StateIdle       State = "idle"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActive     State = "active"
	StateRedundant  State = "redundant"
)

var (
	// ErrShellPrecache 表示应用外壳预缓存失败，install 随之失败。
	ErrShellPrecache = errors.New("shell precache failed")
	// ErrNotInstalled 表示尚未成功 install 就尝试 activate。
	ErrNotInstalled = errors.New("worker is not installed")
	// ErrInvalidTransition 表示在不允许的状态下触发了生命周期事件。
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
)

// ClientClaimer 由客户端注册表实现，activate 完成后接管全部已打开的客户端。
type ClientClaimer interface {
	Claim(ctx context.Context) int
}

// Options 汇总 Controller 的依赖。
type Options struct {
	Fetcher strategy.Fetcher
	Storage cache.Storage
	Runtime config.Runtime
	Clients ClientClaimer
	Logger  *logrus.Logger
}

// ActivateReport 描述一次 activate 的结果。
type ActivateReport struct {
	Deleted []string
	Claimed int
}

// Controller 实现 install/activate 状态机。
type Controller struct {
	fetcher strategy.Fetcher
	storage cache.Storage
	runtime config.Runtime
	clients ClientClaimer
	log     *logrus.Entry

	mu    sync.Mutex
	state State
}

// New 构造 Controller，初始状态为 Idle。
func New(opts Options) (*Controller, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("storage is required")
	}
	return &Controller{
		fetcher: opts.Fetcher,
		storage: opts.Storage,
		runtime: opts.Runtime,
		clients: opts.Clients,
		log:     logging.Component(opts.Logger, "lifecycle"),
		state:   StateIdle,
	}, nil
}

// State 返回当前状态。
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Install 并发执行外壳预缓存与 CDN 预缓存。外壳为原子批次：任一资源失败则整体失败且不写入；
// CDN 资源逐个尽力缓存，失败只记录日志。成功后直接进入 Installed，无需等待旧版本释放。
func (c *Controller) Install(ctx context.Context) error {
	if err := c.transition(StateInstalling, StateIdle, StateRedundant); err != nil {
		return err
	}
	entry := c.log.WithFields(logging.LifecycleFields("install", c.runtime.Version))
	entry.Info("install_start")

	var shellErr error
	var wg conc.WaitGroup
	wg.Go(func() { shellErr = c.precacheShell(ctx) })
	wg.Go(func() { c.precacheCDN(ctx) })
	wg.Wait()

	if shellErr != nil {
		c.setState(StateRedundant)
		entry.WithError(shellErr).Error("install_failed")
		return shellErr
	}
	c.setState(StateInstalled)
	entry.Info("install_complete")
	return nil
}

// Activate 删除不在注册表中的缓存，然后接管全部客户端。
func (c *Controller) Activate(ctx context.Context) (ActivateReport, error) {
	if err := c.transition(StateActivating, StateInstalled); err != nil {
		if errors.Is(err, ErrInvalidTransition) && c.State() != StateActive {
			return ActivateReport{}, ErrNotInstalled
		}
		return ActivateReport{}, err
	}
	entry := c.log.WithFields(logging.LifecycleFields("activate", c.runtime.Version))

	deleted, err := c.deleteObsolete(ctx, entry)
	if err != nil {
		c.setState(StateInstalled)
		entry.WithError(err).Error("activate_failed")
		return ActivateReport{Deleted: deleted}, err
	}

	claimed := 0
	if c.clients != nil {
		claimed = c.clients.Claim(ctx)
	}
	c.setState(StateActive)
	entry.WithFields(logrus.Fields{"deleted": len(deleted), "claimed": claimed}).Info("activate_complete")
	return ActivateReport{Deleted: deleted, Claimed: claimed}, nil
}

func (c *Controller) deleteObsolete(ctx context.Context, entry *logrus.Entry) ([]string, error) {
	names, err := c.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list caches: %w", err)
	}
	sort.Strings(names)

	var deleted []string
	for _, name := range names {
		if c.runtime.Names.Contains(name) {
			continue
		}
		removed, err := c.storage.Delete(ctx, name)
		if err != nil {
			return deleted, fmt.Errorf("delete cache %s: %w", name, err)
		}
		if removed {
			deleted = append(deleted, name)
			entry.WithField("cache_name", name).Info("cache_deleted")
		}
	}
	return deleted, nil
}

// precacheShell 先并发拉取全部外壳资源，全部成功后才逐条写入。
func (c *Controller) precacheShell(ctx context.Context) error {
	assets := c.runtime.ShellAssets
	snapshots := make([]*cache.Snapshot, len(assets))

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	for i, asset := range assets {
		p.Go(func(ctx context.Context) error {
			snap, err := c.fetchOK(ctx, asset)
			if err != nil {
				return err
			}
			snapshots[i] = snap
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return fmt.Errorf("%w: %w", ErrShellPrecache, err)
	}

	store, err := c.storage.Open(ctx, c.runtime.Names.Shell)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrShellPrecache, c.runtime.Names.Shell, err)
	}
	for _, snap := range snapshots {
		if err := store.Put(ctx, snap.Key, snap); err != nil {
			return fmt.Errorf("%w: store %s: %w", ErrShellPrecache, snap.Key.URL(), err)
		}
	}
	return nil
}

// precacheCDN 独立缓存每个 CDN 资源，失败只记录告警。
func (c *Controller) precacheCDN(ctx context.Context) {
	if len(c.runtime.CDNAssets) == 0 {
		return
	}
	store, err := c.storage.Open(ctx, c.runtime.Names.API)
	if err != nil {
		c.log.WithError(err).WithField("cache_name", c.runtime.Names.API).Warn("precache_open_failed")
		return
	}

	var wg conc.WaitGroup
	for _, asset := range c.runtime.CDNAssets {
		wg.Go(func() {
			entry := c.log.WithFields(logrus.Fields{"cache_name": store.Name(), "url": asset})
			snap, err := c.fetchOK(ctx, asset)
			if err == nil {
				err = store.Put(ctx, snap.Key, snap)
			}
			if err != nil {
				entry.WithError(err).Warn("precache_failed")
				return
			}
			entry.Debug("precache_complete")
		})
	}
	wg.Wait()
}

func (c *Controller) fetchOK(ctx context.Context, rawURL string) (*cache.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", rawURL, err)
	}
	snap, err := strategy.FetchSnapshot(ctx, c.fetcher, req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	if snap.Status != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, snap.Status)
	}
	return snap, nil
}

func (c *Controller) transition(to State, from ...State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, allowed := range from {
		if c.state == allowed {
			c.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, to)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
