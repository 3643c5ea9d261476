package config

import (
	"fmt"
	"time"
)

// Config 应用配置结构体 [这里的字段和配置文件中一级字段保持一致，否则会没有值]
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`     // 服务器配置
	Database DatabaseConfig `yaml:"database" mapstructure:"database"` // 数据库配置
	Log      LogConfig      `yaml:"log" mapstructure:"log"`           // 日志配置
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`     // 摄取配置
	App      AppConfig      `yaml:"app" mapstructure:"app"`           // 应用配置
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host           string        `yaml:"host" mapstructure:"host"`                         // 服务器主机地址
	Port           int           `yaml:"port" mapstructure:"port"`                         // 服务器端口
	Mode           string        `yaml:"mode" mapstructure:"mode"`                         // 运行模式: debug, release, test
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`         // 读取超时时间
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`       // 写入超时时间
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`         // 空闲超时时间
	MaxHeaderBytes int           `yaml:"max_header_bytes" mapstructure:"max_header_bytes"` // 最大请求头字节数
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	MySQL MySQLConfig `yaml:"mysql" mapstructure:"mysql"` // MySQL配置
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"` // Redis配置
}

// MySQLConfig MySQL数据库配置
type MySQLConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`                             // 数据库主机
	Port            int           `yaml:"port" mapstructure:"port"`                             // 数据库端口
	Username        string        `yaml:"username" mapstructure:"username"`                     // 用户名
	Password        string        `yaml:"password" mapstructure:"password"`                     // 密码
	Database        string        `yaml:"database" mapstructure:"database"`                     // 数据库名
	Charset         string        `yaml:"charset" mapstructure:"charset"`                       // 字符集
	ParseTime       bool          `yaml:"parse_time" mapstructure:"parse_time"`                 // 是否解析时间
	Loc             string        `yaml:"loc" mapstructure:"loc"`                               // 时区
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`         // 最大空闲连接数
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`         // 最大打开连接数
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`   // 连接最大生存时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"` // 连接最大空闲时间
	LogLevel        string        `yaml:"log_level" mapstructure:"log_level"`                   // 日志级别
}

// RedisConfig Redis配置
type RedisConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`                     // Redis主机
	Port         int           `yaml:"port" mapstructure:"port"`                     // Redis端口
	Password     string        `yaml:"password" mapstructure:"password"`             // Redis密码
	Database     int           `yaml:"database" mapstructure:"database"`             // Redis数据库索引
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`           // 连接池大小
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"` // 最小空闲连接数
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`     // 连接超时
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`     // 读取超时
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`   // 写入超时
	PoolTimeout  time.Duration `yaml:"pool_timeout" mapstructure:"pool_timeout"`     // 连接池超时
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`     // 空闲超时
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`             // 日志级别
	Format     string `yaml:"format" mapstructure:"format"`           // 日志格式: json, text
	Output     string `yaml:"output" mapstructure:"output"`           // 输出方式: stdout, stderr, file
	FilePath   string `yaml:"file_path" mapstructure:"file_path"`     // 日志文件路径
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // 单个日志文件最大大小(MB)
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // 保留的日志文件数量
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // 日志文件保留天数
	Compress   bool   `yaml:"compress" mapstructure:"compress"`       // 是否压缩日志文件
	Caller     bool   `yaml:"caller" mapstructure:"caller"`           // 是否显示调用者信息
}

// IngestConfig 摄取配置
type IngestConfig struct {
	BulkBatchSize       int           `yaml:"bulk_batch_size" mapstructure:"bulk_batch_size"`               // 批量更新分片大小（限制单条语句规模）
	DupWindowDays       int           `yaml:"dup_window_days" mapstructure:"dup_window_days"`               // 重复检测候选池时间窗口(天)
	DupScoreThreshold   int           `yaml:"dup_score_threshold" mapstructure:"dup_score_threshold"`       // 重复候选入库评分阈值
	SnapshotCacheTTL    time.Duration `yaml:"snapshot_cache_ttl" mapstructure:"snapshot_cache_ttl"`         // 最新快照缓存TTL
	SnapshotCacheEnable bool          `yaml:"snapshot_cache_enable" mapstructure:"snapshot_cache_enable"`   // 是否启用快照缓存
	AmbiguousCandidates int           `yaml:"ambiguous_candidates" mapstructure:"ambiguous_candidates"`     // 歧义候选列表上限
	DiffMaxFields       int           `yaml:"diff_max_fields" mapstructure:"diff_max_fields"`               // 变更摘要字段数上限
	DiffMaxRelations    int           `yaml:"diff_max_relations" mapstructure:"diff_max_relations"`         // 变更摘要关系数上限
}

// AppConfig 应用配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`       // 应用名称
	Version string `yaml:"version" mapstructure:"version"` // 应用版本
	Env     string `yaml:"env" mapstructure:"env"`         // 运行环境
}

// Validate 验证配置合法性
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.MySQL.Host == "" {
		return fmt.Errorf("mysql host cannot be empty")
	}
	if c.Database.MySQL.Database == "" {
		return fmt.Errorf("mysql database cannot be empty")
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Log.Format)
	}
	return nil
}

// applyDefaults 填充缺省值
func applyDefaults(c *Config) {
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Ingest.BulkBatchSize <= 0 {
		c.Ingest.BulkBatchSize = 500
	}
	if c.Ingest.DupWindowDays <= 0 {
		c.Ingest.DupWindowDays = 7
	}
	if c.Ingest.DupScoreThreshold <= 0 {
		c.Ingest.DupScoreThreshold = 70
	}
	if c.Ingest.AmbiguousCandidates <= 0 {
		c.Ingest.AmbiguousCandidates = 50
	}
	if c.Ingest.DiffMaxFields <= 0 {
		c.Ingest.DiffMaxFields = 5
	}
	if c.Ingest.DiffMaxRelations <= 0 {
		c.Ingest.DiffMaxRelations = 3
	}
	if c.Ingest.SnapshotCacheTTL <= 0 {
		c.Ingest.SnapshotCacheTTL = 24 * time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}
