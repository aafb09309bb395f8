package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/eddielth/csv-device-split/logger"
	"github.com/eddielth/csv-device-split/transformer"
)

// MySQLStorage 表示MySQL数据库存储后端
type MySQLStorage struct {
	db       *sql.DB
	dsn      string
	database string
}

// NewMySQLStorage 创建一个新的MySQL存储后端
func NewMySQLStorage(dsn string) (*MySQLStorage, error) {
	// 解析DSN获取数据库名
	database, serverDSN, err := parseMySQLDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("解析MySQL DSN失败: %v", err)
	}

	// 先连接到MySQL服务器（不指定数据库）
	serverDB, err := sql.Open("mysql", serverDSN)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL服务器失败: %v", err)
	}
	defer serverDB.Close()

	// 创建数据库（如果不存在）
	_, err = serverDB.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", database))
	if err != nil {
		return nil, fmt.Errorf("创建数据库失败: %v", err)
	}

	logger.Info("确保MySQL数据库 %s 存在", database)

	// 连接到指定的数据库
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL数据库失败: %v", err)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("MySQL数据库连接测试失败: %v", err)
	}

	// 设置连接池参数
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Minute * 5)

	storage := &MySQLStorage{
		db:       db,
		dsn:      dsn,
		database: database,
	}

	// 初始化数据库和表
	if err := storage.InitDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化MySQL数据库失败: %v", err)
	}

	logger.Info("MySQL数据库存储初始化成功")
	return storage, nil
}

// parseMySQLDSN 解析MySQL DSN字符串，提取数据库名和不包含数据库的DSN
func parseMySQLDSN(dsn string) (database string, serverDSN string, err error) {
	// 查找DSN中的数据库名
	parts := strings.Split(dsn, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("DSN格式无效，无法提取数据库名")
	}

	// 最后一部分可能包含参数
	dbParts := strings.Split(parts[len(parts)-1], "?")
	database = dbParts[0]

	// 创建不包含数据库名的DSN（用于连接到服务器）
	serverDSN = strings.Join(parts[:len(parts)-1], "/") + "/"
	if len(dbParts) > 1 {
		serverDSN += "?" + dbParts[1]
	}

	return database, serverDSN, nil
}

// InitDatabase 初始化数据库和表
func (ms *MySQLStorage) InitDatabase() error {
	// 创建设备记录表
	recordTableSQL := `
	CREATE TABLE IF NOT EXISTS device_records (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		device_key VARCHAR(255) NOT NULL,
		record_time VARCHAR(19) NOT NULL,
		source_row INT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_device_key (device_key),
		INDEX idx_record_time (record_time)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`

	// 创建测量值表
	valueTableSQL := `
	CREATE TABLE IF NOT EXISTS record_values (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		record_id BIGINT NOT NULL,
		name VARCHAR(255) NOT NULL,
		value TEXT,
		FOREIGN KEY (record_id) REFERENCES device_records(id) ON DELETE CASCADE,
		INDEX idx_record_id (record_id),
		INDEX idx_name (name)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;
	`

	// 执行创建表SQL
	_, err := ms.db.Exec(recordTableSQL)
	if err != nil {
		return fmt.Errorf("创建设备记录表失败: %v", err)
	}

	_, err = ms.db.Exec(valueTableSQL)
	if err != nil {
		return fmt.Errorf("创建测量值表失败: %v", err)
	}

	logger.Info("MySQL数据库表初始化成功")
	return nil
}

// Store 将规范记录存储到MySQL数据库
func (ms *MySQLStorage) Store(record transformer.CanonicalRecord) error {
	// 开始事务
	tx, err := ms.db.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %v", err)
	}

	// 确保事务最终会提交或回滚
	defer func() {
		if err != nil {
			tx.Rollback()
			logger.Error("MySQL事务回滚: %v", err)
		}
	}()

	// 插入设备记录
	recordSQL := `INSERT INTO device_records (device_key, record_time, source_row) VALUES (?, ?, ?)`
	result, err := tx.Exec(recordSQL, record.Device, record.Timestamp, record.SourceRow)
	if err != nil {
		return fmt.Errorf("插入设备记录失败: %v", err)
	}

	// 获取插入的ID
	recordID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("获取插入ID失败: %v", err)
	}

	// 批量插入测量值
	if len(record.Columns) > 0 {
		valueStrings := make([]string, 0, len(record.Columns))
		valueArgs := make([]interface{}, 0, len(record.Columns)*3)

		for i, name := range record.Columns {
			valueStrings = append(valueStrings, "(?, ?, ?)")
			valueArgs = append(valueArgs, recordID, name, record.Values[i])
		}

		valueSQL := fmt.Sprintf("INSERT INTO record_values (record_id, name, value) VALUES %s",
			strings.Join(valueStrings, ","))

		_, err = tx.Exec(valueSQL, valueArgs...)
		if err != nil {
			return fmt.Errorf("插入测量值失败: %v", err)
		}
	}

	// 提交事务
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %v", err)
	}

	logger.Debug("已将设备 %s 的记录存储到MySQL数据库", record.Device)
	return nil
}

// Close 关闭数据库连接
func (ms *MySQLStorage) Close() error {
	if ms.db != nil {
		err := ms.db.Close()
		if err != nil {
			return fmt.Errorf("关闭MySQL数据库连接失败: %v", err)
		}
		logger.Info("MySQL数据库连接已关闭")
	}
	return nil
}
