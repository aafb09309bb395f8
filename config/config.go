package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/eddielth/csv-device-split/transformer"
)

// Config 表示应用程序的配置
type Config struct {
	Splitter     SplitterConfig                `mapstructure:"splitter"`
	Watch        WatchModeConfig               `mapstructure:"watch"`
	Logger       LoggerConfig                  `mapstructure:"logger"`
	Monitor      MonitorConfig                 `mapstructure:"monitor"`
	Storage      StorageConfig                 `mapstructure:"storage"`
	MQTT         MQTTConfig                    `mapstructure:"mqtt"`
	Transformers map[string]transformer.Script `mapstructure:"transformers"`
	Validators   []ValidatorConfig             `mapstructure:"validators"`
}

// SplitterConfig 表示CSV分离引擎的配置
type SplitterConfig struct {
	// 按设备分离后的CSV输出目录
	OutputDir string `mapstructure:"output_dir"`
	// 单时间列格式的时间列名
	TimeCol string `mapstructure:"time_col"`
	// 显式设备标识列名
	DeviceCol string `mapstructure:"device_col"`
	// 输出文件名后缀，用于区分不同批次，如 W1
	FileID string `mapstructure:"file_id"`
	// 自由格式日期的歧义解析顺序：MDY 或 DMY，整个运行期间保持一致
	DateOrder string `mapstructure:"date_order"`
	// 同时打开的设备文件句柄上限
	MaxOpenFiles int `mapstructure:"max_open_files"`
	// 运行日志目录
	LogDir string `mapstructure:"log_dir"`
}

// WatchModeConfig 表示监视模式的配置：持续处理投递到目录中的新CSV文件
type WatchModeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// LoggerConfig 表示日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"`
}

// MonitorConfig 表示资源监控配置
type MonitorConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Interval int  `mapstructure:"interval_seconds"`
}

// MQTTConfig 表示MQTT发布的配置
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// StorageConfig 表示镜像存储配置
type StorageConfig struct {
	Database DatabaseStorageConfig `mapstructure:"database"`
}

// DatabaseStorageConfig 表示数据库存储配置
type DatabaseStorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"`
	DSN     string `mapstructure:"dsn"`
}

// ValidatorConfig 表示单个测量列的数值范围校验配置
type ValidatorConfig struct {
	Column string  `mapstructure:"column"`
	Min    float64 `mapstructure:"min"`
	Max    float64 `mapstructure:"max"`
}

// ConfigChangeCallback 是配置文件变更时的回调函数类型
type ConfigChangeCallback func(cfg *Config) error

// setDefaults 注册所有配置项的默认值
func setDefaults() {
	viper.SetDefault("splitter.output_dir", "output/csv_per_device")
	viper.SetDefault("splitter.time_col", "Time")
	viper.SetDefault("splitter.device_col", "DeviceID")
	viper.SetDefault("splitter.file_id", "W1")
	viper.SetDefault("splitter.date_order", "MDY")
	viper.SetDefault("splitter.max_open_files", 128)
	viper.SetDefault("splitter.log_dir", "logs")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.max_size", 10)
	viper.SetDefault("logger.max_backups", 5)
	viper.SetDefault("logger.console", true)
	viper.SetDefault("monitor.enabled", true)
	viper.SetDefault("monitor.interval_seconds", 5)
	viper.SetDefault("mqtt.topic_prefix", "csv-split")
}

// LoadConfig 从指定路径加载配置文件。路径为空时全部使用默认值。
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// WatchConfig 监听配置文件变化并调用回调函数。
// 监视模式下转换脚本等配置的变更会在下一个输入文件生效。
func WatchConfig(configPath string, callback ConfigChangeCallback) error {
	// 获取配置文件的绝对路径
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}

	// 设置Viper监听配置文件变化
	viper.SetConfigFile(absPath)
	viper.WatchConfig()

	// 防抖动处理，避免短时间内多次触发
	var lastChangeTime time.Time
	var debounceInterval = 2 * time.Second

	viper.OnConfigChange(func(e fsnotify.Event) {
		// 检查是否是写入操作
		if e.Op&fsnotify.Write == fsnotify.Write {
			// 防抖动处理
			now := time.Now()
			if now.Sub(lastChangeTime) < debounceInterval {
				return
			}
			lastChangeTime = now

			log.Printf("检测到配置文件变更: %s", e.Name)

			// 重新加载配置
			var newConfig Config
			err := viper.Unmarshal(&newConfig)
			if err != nil {
				log.Printf("解析更新后的配置失败: %v", err)
				return
			}

			// 调用回调函数处理新配置
			if err := callback(&newConfig); err != nil {
				log.Printf("应用新配置失败: %v", err)
				return
			}

			log.Println("配置已成功更新并应用")
		}
	})

	return nil
}
