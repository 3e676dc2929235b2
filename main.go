package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/config"
	"github.com/any-hub/offline-hub/internal/control"
	"github.com/any-hub/offline-hub/internal/lifecycle"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/proxy"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/server/routes"
	"github.com/any-hub/offline-hub/internal/strategy"
	"github.com/any-hub/offline-hub/internal/version"
	"github.com/any-hub/offline-hub/internal/worker"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		for key, value := range cfg.Summary() {
			fields[key] = value
		}
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化 worker 失败: %v\n", err)
		return 1
	}
	defer svc.close()

	fields := logging.BaseFields("startup", opts.configPath)
	for key, value := range cfg.Summary() {
		fields[key] = value
	}
	fields["listen_addr"] = cfg.Global.ListenAddr
	fields["listen_port"] = cfg.Global.ListenPort
	fields["third_party_hosts"] = svc.registry.ThirdPartyHosts()
	fields["state"] = string(svc.worker.State())
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, svc, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// service 持有进程级共享组件：所有请求共用同一份缓存存储与后台写入器。
type service struct {
	storage  cache.Storage
	writer   *cache.Writer
	worker   *worker.Worker
	registry *server.OriginRegistry
	proxy    *proxy.Handler
}

// bootstrap 遵循“存储 → 策略引擎 → 生命周期 → worker → install/activate”顺序，
// 只有 activate 成功后才开始接管请求。
func bootstrap(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	rt, err := config.BuildRuntime(cfg)
	if err != nil {
		return nil, err
	}

	storage, err := cache.NewStorage(cfg.Global.StorageBackend, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储失败: %w", err)
	}
	svc := &service{storage: storage}

	httpClient := server.NewUpstreamClient(cfg)
	svc.writer = cache.NewWriter(ctx, logging.Component(logger, "cache_writer"))

	engine, err := strategy.NewEngine(strategy.Options{
		Fetcher: httpClient,
		Storage: storage,
		Writer:  svc.writer,
		Runtime: rt,
		Logger:  logger,
	})
	if err != nil {
		svc.close()
		return nil, err
	}

	clients := worker.NewClients()
	controller, err := lifecycle.New(lifecycle.Options{
		Fetcher: httpClient,
		Storage: storage,
		Runtime: rt,
		Clients: clients,
		Logger:  logger,
	})
	if err != nil {
		svc.close()
		return nil, err
	}

	svc.worker, err = worker.New(worker.Options{
		Engine:    engine,
		Lifecycle: controller,
		Control:   control.NewChannel(storage, logger),
		Clients:   clients,
		Runtime:   rt,
		Logger:    logger,
	})
	if err != nil {
		svc.close()
		return nil, err
	}

	if err := svc.worker.Install(ctx); err != nil {
		svc.close()
		return nil, fmt.Errorf("install: %w", err)
	}
	report, err := svc.worker.Activate(ctx)
	if err != nil {
		svc.close()
		return nil, fmt.Errorf("activate: %w", err)
	}
	fields := logging.LifecycleFields("activate", rt.Version)
	fields["deleted"] = report.Deleted
	fields["claimed"] = report.Claimed
	logger.WithFields(fields).Info("worker 已激活")

	svc.registry, err = server.NewOriginRegistry(cfg)
	if err != nil {
		svc.close()
		return nil, fmt.Errorf("构建源站注册表失败: %w", err)
	}
	svc.proxy = proxy.NewHandler(svc.worker, server.NewPassThroughClient(cfg), logger)
	return svc, nil
}

// close 等待后台缓存写入完成后再释放存储。
func (s *service) close() {
	if s.writer != nil {
		s.writer.Wait()
	}
	if s.storage != nil {
		_ = s.storage.Close()
	}
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet(version.Name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("OFFLINE_HUB_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// newHTTPApp 组装 Fiber 应用：Host 路由 → fetch 桥接，/-/ 下挂载 worker 事件入口。
func newHTTPApp(cfg *config.Config, svc *service, logger *logrus.Logger) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   svc.registry,
		Proxy:      svc.proxy,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterWorkerRoutes(app, svc.worker, svc.registry, logger)
	return app, nil
}

func startHTTPServer(ctx context.Context, cfg *config.Config, svc *service, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := newHTTPApp(cfg, svc, logger)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.WithError(err).Warn("Fiber 服务关闭失败")
		}
	}()

	addr := net.JoinHostPort(cfg.Global.ListenAddr, strconv.Itoa(port))
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"addr":   addr,
	}).Info("Fiber 服务启动")

	if err := app.Listen(addr); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
