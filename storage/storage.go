package storage

import (
	"sync"

	"github.com/eddielth/csv-device-split/logger"
	"github.com/eddielth/csv-device-split/transformer"
)

// Backend 表示镜像存储后端接口。按设备分离的CSV文件本身由路由器负责，
// 这里的后端是规范记录的附加镜像。
type Backend interface {
	// Store 存储一条规范记录
	Store(record transformer.CanonicalRecord) error
	// Close 关闭存储连接
	Close() error
}

// Manager 管理多个存储后端
type Manager struct {
	backends []Backend
	mutex    sync.RWMutex
}

// NewManager 创建一个新的存储管理器
func NewManager(backends []Backend) *Manager {
	return &Manager{
		backends: backends,
	}
}

// Store 将记录存储到所有后端。单个后端失败只记录日志，不阻塞主流程。
func (m *Manager) Store(record transformer.CanonicalRecord) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, backend := range m.backends {
		if err := backend.Store(record); err != nil {
			// 记录错误但继续尝试其他后端
			logger.Error("存储记录到后端失败: %v", err)
		}
	}
}

// Close 关闭所有存储后端连接
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, backend := range m.backends {
		if err := backend.Close(); err != nil {
			logger.Error("关闭存储后端连接失败: %v", err)
		}
	}
}

// AddBackend 添加新的存储后端
func (m *Manager) AddBackend(backend Backend) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.backends = append(m.backends, backend)
}
