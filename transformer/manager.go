package transformer

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/eddielth/csv-device-split/logger"
)

// Script 表示一个转换脚本的配置
type Script struct {
	ScriptPath string `mapstructure:"script_path"`
	ScriptCode string `mapstructure:"script_code"`
}

// Manager 管理多个记录转换器。键为设备标识，"default" 应用于所有未单独配置的设备。
type Manager struct {
	transformers map[string]*Transformer
	mutex        sync.RWMutex
}

// Transformer 表示一个基于JavaScript的记录转换器
type Transformer struct {
	vm         *goja.Runtime
	transform  goja.Callable
	scriptPath string
}

// DefaultKey 未单独配置设备时使用的转换器名称
const DefaultKey = "default"

// NewManager 创建一个新的转换器管理器
func NewManager(configs map[string]Script) (*Manager, error) {
	manager := &Manager{
		transformers: make(map[string]*Transformer),
	}

	// 为每个设备创建转换器
	for deviceKey, cfg := range configs {
		scriptCode, err := loadScript(cfg)
		if err != nil {
			return nil, fmt.Errorf("设备 %s: %v", deviceKey, err)
		}

		transformer, err := newTransformer(scriptCode, cfg.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("为设备 %s 创建转换器失败: %v", deviceKey, err)
		}

		manager.transformers[deviceKey] = transformer
		logger.Info("已为设备 %s 加载转换脚本", deviceKey)
	}

	return manager, nil
}

// loadScript 优先使用配置中的脚本代码，否则从文件加载
func loadScript(cfg Script) (string, error) {
	if cfg.ScriptCode != "" {
		return cfg.ScriptCode, nil
	}
	if cfg.ScriptPath != "" {
		scriptBytes, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			return "", fmt.Errorf("无法加载脚本文件 %s: %v", cfg.ScriptPath, err)
		}
		return string(scriptBytes), nil
	}
	return "", fmt.Errorf("没有提供脚本代码或脚本路径")
}

// newTransformer 创建一个新的转换器
func newTransformer(scriptCode, scriptPath string) (*Transformer, error) {
	// 创建JavaScript运行时
	vm := goja.New()

	// 注入辅助函数
	_ = vm.Set("log", func(msg string) {
		logger.Info("[JS] %s", msg)
	})

	_ = vm.Set("parseNumber", func(s string) float64 {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			logger.Warn("解析数值失败: %v", err)
			return 0
		}
		return f
	})

	// 格式化日期时间
	_ = vm.Set("formatDate", func(timestamp int64, format string) string {
		if format == "" {
			format = "2006-01-02T15:04:05"
		}
		return time.Unix(timestamp, 0).Format(format)
	})

	// 单位转换
	_ = vm.Set("convertTemperature", func(value float64, fromUnit string, toUnit string) float64 {
		fromUnit = strings.ToUpper(fromUnit)
		toUnit = strings.ToUpper(toUnit)

		// 转换为摄氏度
		var celsius float64
		switch fromUnit {
		case "C":
			celsius = value
		case "F":
			celsius = (value - 32) * 5 / 9
		case "K":
			celsius = value - 273.15
		default:
			return value // 未知单位，返回原值
		}

		switch toUnit {
		case "C":
			return celsius
		case "F":
			return celsius*9/5 + 32
		case "K":
			return celsius + 273.15
		default:
			return celsius
		}
	})

	// 执行脚本
	_, err := vm.RunString(scriptCode)
	if err != nil {
		return nil, fmt.Errorf("执行脚本失败: %v", err)
	}

	// 获取转换函数
	transformValue := vm.Get("transform")
	if transformValue == nil {
		return nil, fmt.Errorf("脚本中没有定义 'transform' 函数")
	}

	transform, ok := goja.AssertFunction(transformValue)
	if !ok {
		return nil, fmt.Errorf("'transform' 不是一个函数")
	}

	return &Transformer{
		vm:         vm,
		transform:  transform,
		scriptPath: scriptPath,
	}, nil
}

// Has 判断指定设备是否配置了转换器（含默认转换器）
func (m *Manager) Has(deviceKey string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if _, ok := m.transformers[deviceKey]; ok {
		return true
	}
	_, ok := m.transformers[DefaultKey]
	return ok
}

// Transform 使用指定设备的转换器处理一条规范记录。
// 设备没有配置转换器时原样返回记录。
func (m *Manager) Transform(record CanonicalRecord) (CanonicalRecord, error) {
	m.mutex.RLock()
	transformer, exists := m.transformers[record.Device]
	if !exists {
		transformer, exists = m.transformers[DefaultKey]
	}
	m.mutex.RUnlock()

	if !exists {
		return record, nil
	}

	// 调用JavaScript转换函数
	input := record.Clone()
	result, err := transformer.transform(goja.Undefined(), transformer.vm.ToValue(input))
	if err != nil {
		return record, fmt.Errorf("执行转换失败: %v", err)
	}

	// 将JavaScript值导出并解析回规范记录
	jsonData, err := json.Marshal(result.Export())
	if err != nil {
		return record, fmt.Errorf("序列化JavaScript结果失败: %v", err)
	}

	var out CanonicalRecord
	if err := json.Unmarshal(jsonData, &out); err != nil {
		return record, fmt.Errorf("解析转换结果失败: %v", err)
	}

	// 设备标识和时间戳不允许被脚本清空
	if out.Device == "" {
		out.Device = record.Device
	}
	if out.Timestamp == "" {
		out.Timestamp = record.Timestamp
	}
	if out.SourceRow == 0 {
		out.SourceRow = record.SourceRow
	}

	if len(out.Columns) != len(out.Values) {
		return record, fmt.Errorf("转换结果列数与值数不一致: %d != %d", len(out.Columns), len(out.Values))
	}

	return out, nil
}

// Reload 重新加载指定设备的转换器
func (m *Manager) Reload(deviceKey string, cfg Script) error {
	scriptCode, err := loadScript(cfg)
	if err != nil {
		return err
	}

	transformer, err := newTransformer(scriptCode, cfg.ScriptPath)
	if err != nil {
		return fmt.Errorf("创建转换器失败: %v", err)
	}

	m.mutex.Lock()
	m.transformers[deviceKey] = transformer
	m.mutex.Unlock()

	logger.Info("已重新加载设备 %s 的转换脚本", deviceKey)
	return nil
}
