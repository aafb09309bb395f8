package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddielth/csv-device-split/config"
	"github.com/eddielth/csv-device-split/logger"
	"github.com/eddielth/csv-device-split/monitor"
	"github.com/eddielth/csv-device-split/mqtt"
	"github.com/eddielth/csv-device-split/splitter"
	"github.com/eddielth/csv-device-split/storage"
	"github.com/eddielth/csv-device-split/timefmt"
	"github.com/eddielth/csv-device-split/transformer"
	"github.com/eddielth/csv-device-split/validator"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	watchMode := flag.Bool("watch", false, "监视输入目录，持续处理新到达的CSV文件")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		return 1
	}

	// 每次运行使用独立的带时间戳的日志文件
	runLogPath := logger.RunFilePath(cfg.Splitter.LogDir, time.Now())
	if err := logger.InitFromConfig(cfg.Logger.Level, runLogPath, cfg.Logger.MaxSize, cfg.Logger.MaxBackups, cfg.Logger.Console); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		return 1
	}
	defer logger.Close()

	// 解析日期歧义顺序，整个运行期间保持一致
	dateOrder, err := timefmt.ParseDateOrder(cfg.Splitter.DateOrder)
	if err != nil {
		logger.Error("无效的日期顺序配置: %v", err)
		return 1
	}

	// 初始化转换器管理器
	transformerManager, err := transformer.NewManager(cfg.Transformers)
	if err != nil {
		logger.Error("初始化转换器管理器失败: %v", err)
		return 1
	}

	// 初始化镜像存储后端
	var backends []storage.Backend
	if cfg.Storage.Database.Enabled {
		dbStorage, err := storage.NewDatabaseStorage(cfg.Storage.Database.Type, cfg.Storage.Database.DSN)
		if err != nil {
			logger.Error("初始化数据库存储失败: %v", err)
			return 1
		}
		backends = append(backends, dbStorage)
	}

	var store splitter.RecordStore
	var storageManager *storage.Manager
	if len(backends) > 0 {
		storageManager = storage.NewManager(backends)
		defer storageManager.Close()
		store = storageManager
	}

	// 初始化MQTT发布器
	var sink splitter.RecordSink
	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled {
		publisher, err = mqtt.NewPublisher(cfg.MQTT)
		if err != nil {
			logger.Error("初始化MQTT发布器失败: %v", err)
			return 1
		}
		if err := publisher.Connect(); err != nil {
			logger.Error("连接MQTT服务器失败: %v", err)
			return 1
		}
		defer publisher.Disconnect()
		sink = publisher
	}

	// 校验器
	validators := make([]validator.Validator, 0, len(cfg.Validators))
	for _, vc := range cfg.Validators {
		validators = append(validators, &validator.RangeValidator{Column: vc.Column, Min: vc.Min, Max: vc.Max})
	}

	pipeline := splitter.New(splitter.Options{
		OutputDir:    cfg.Splitter.OutputDir,
		TimeCol:      cfg.Splitter.TimeCol,
		DeviceCol:    cfg.Splitter.DeviceCol,
		FileID:       cfg.Splitter.FileID,
		DateOrder:    dateOrder,
		MaxOpenFiles: cfg.Splitter.MaxOpenFiles,
		Transformers: transformerManager,
		Validators:   validators,
		Store:        store,
		Sink:         sink,
	})

	// 中断信号取消上下文，路由器保证关闭所有已打开的输出文件
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Warn("收到信号 %s，正在停止...", sig)
		cancel()
	}()

	runOne := func(ctx context.Context, inputPath string) error {
		metrics, err := runFile(ctx, pipeline, cfg, publisher, inputPath)
		if err != nil {
			return err
		}
		if metrics.PartialFailure() {
			return fmt.Errorf("部分设备输出失败: %d 个", len(metrics.FailedDevices))
		}
		return nil
	}

	if *watchMode || cfg.Watch.Enabled {
		if cfg.Watch.Dir == "" {
			logger.Error("监视模式需要配置 watch.dir")
			return 1
		}

		// 监视模式下支持配置热更新，脚本变更在下一个文件生效
		err = config.WatchConfig(*configPath, func(newCfg *config.Config) error {
			for deviceKey, script := range newCfg.Transformers {
				if err := transformerManager.Reload(deviceKey, script); err != nil {
					logger.Error("重新加载转换脚本 %s 失败: %v", deviceKey, err)
				}
			}
			return nil
		})
		if err != nil {
			logger.Warn("监听配置文件变化失败: %v", err)
		}

		watcher := splitter.NewWatcher(cfg.Watch.Dir, runOne)
		if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
			logger.Error("监视输入目录失败: %v", err)
			return 1
		}
		logger.Info("服务已安全停止")
		return 0
	}

	// 单文件模式：输入文件作为位置参数
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "用法: csv-device-split [-config config.yaml] <input.csv>")
		return 2
	}

	metrics, err := runFile(ctx, pipeline, cfg, publisher, flag.Arg(0))
	if err != nil {
		logger.Error("处理失败: %v", err)
		return 1
	}
	if metrics.PartialFailure() {
		// 部分成功：其余设备的文件是完整的
		return 1
	}
	return 0
}

// runFile 处理单个输入文件：启动资源监控，执行转换，输出汇总
func runFile(ctx context.Context, pipeline *splitter.Pipeline, cfg *config.Config, publisher *mqtt.Publisher, inputPath string) (*splitter.RunMetrics, error) {
	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		m, err := monitor.New(time.Duration(cfg.Monitor.Interval) * time.Second)
		if err != nil {
			// 资源监控失败不影响主流程
			logger.Warn("资源监控不可用: %v", err)
		} else {
			mon = m
			mon.Start(ctx)
		}
	}

	metrics, err := pipeline.Run(ctx, inputPath)

	if mon != nil {
		summary := mon.Stop()
		metrics.Resources = &summary
	}
	metrics.LogSummary()

	if publisher != nil {
		if perr := publisher.PublishSummary(metrics); perr != nil {
			logger.Warn("发布运行汇总失败: %v", perr)
		}
	}

	return metrics, err
}
