package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/parcel-hub/parcel-hub/internal/config"
	"github.com/parcel-hub/parcel-hub/internal/events"
	"github.com/parcel-hub/parcel-hub/internal/logging"
	"github.com/parcel-hub/parcel-hub/internal/mutation"
	"github.com/parcel-hub/parcel-hub/internal/operations"
	"github.com/parcel-hub/parcel-hub/internal/origin"
	"github.com/parcel-hub/parcel-hub/internal/query"
	"github.com/parcel-hub/parcel-hub/internal/querycache"
	"github.com/parcel-hub/parcel-hub/internal/resolver"
	"github.com/parcel-hub/parcel-hub/internal/server"
	"github.com/parcel-hub/parcel-hub/internal/server/routes"
	"github.com/parcel-hub/parcel-hub/internal/version"
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
		fields["origin"] = cfg.Origin.BaseURL
		fields["auth"] = cfg.Origin.AuthMode()
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	app, err := buildApp(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化服务失败: %v\n", err)
		return 1
	}
	defer app.close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["origin"] = cfg.Origin.BaseURL
	fields["listen_port"] = cfg.Global.ListenPort
	fields["auth"] = cfg.Origin.AuthMode()
	fields["poll_interval"] = cfg.Cache.PollInterval.DurationValue().String()
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.serve(ctx, cfg.Global.ListenPort); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("parcel-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PARCEL_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PARCEL_HUB_CONFIG")
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

// application 持有一次进程生命周期内共享的组件。
type application struct {
	fiber  *fiber.App
	cache  *querycache.Cache
	poller *querycache.Poller
	logger *logrus.Logger
}

// buildApp 按“origin → resolver → 操作注册表 → 事件总线 → 查询缓存 → 变更协调器 → Fiber”顺序组装。
func buildApp(cfg *config.Config, logger *logrus.Logger) (*application, error) {
	token := cfg.Origin.Token
	client, err := origin.New(origin.Options{
		BaseURL:    cfg.Origin.BaseURL,
		HTTPClient: origin.NewHTTPClient(cfg),
		Token:      func() string { return token },
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	lists := resolver.New(client, resolver.Options{
		MinPlausible: cfg.Cache.MinPlausible,
		LargeLimit:   cfg.Cache.LargeLimit,
		PageLimit:    cfg.Cache.PageLimit,
		Logger:       logger,
	})

	registry := query.NewRegistry()
	if err := operations.Register(registry, operations.Options{
		Resolver:    lists,
		Getter:      client,
		RecentCount: cfg.Cache.RecentCount,
	}); err != nil {
		return nil, err
	}

	bus := events.NewHub(logger)
	cache, err := querycache.New(querycache.Options{
		Registry:   registry,
		Bus:        bus,
		Clock:      clock.WallClock,
		Logger:     logger,
		DefaultTTL: cfg.Cache.DefaultTTL.DurationValue(),
		GCGrace:    cfg.Cache.GCGrace.DurationValue(),
	})
	if err != nil {
		return nil, err
	}
	poller := querycache.NewPoller(cache, querycache.PollerOptions{
		Interval: cfg.Cache.PollInterval.DurationValue(),
		Clock:    clock.WallClock,
		Logger:   logger,
	})

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		cache.Close()
		return nil, err
	}
	deps := routes.Deps{
		Cache:     cache,
		Mutations: mutation.New(cache, client, logger),
		Bus:       bus,
		Poller:    poller,
		Logger:    logger,
	}
	routes.RegisterParcelRoutes(app, deps)
	routes.RegisterDiagnosticsRoutes(app, deps)

	return &application{fiber: app, cache: cache, poller: poller, logger: logger}, nil
}

// serve 同时运行 HTTP 服务与轮询器，任一退出或 ctx 结束时整体关闭。
func (a *application) serve(ctx context.Context, port int) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.poller.Run(ctx)
	})
	g.Go(func() error {
		a.logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		return a.fiber.Listen(fmt.Sprintf(":%d", port))
	})
	g.Go(func() error {
		<-ctx.Done()
		a.logger.WithField("action", "shutdown").Info("Fiber 服务关闭")
		return a.fiber.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *application) close() {
	a.cache.Close()
}
