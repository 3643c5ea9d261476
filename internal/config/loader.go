// 配置加载器
// 基于 viper 从 YAML 文件加载配置，支持环境变量覆盖（NEOLEDGER_ 前缀）
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

var (
	// GlobalConfig 全局配置实例
	GlobalConfig *Config
	configMutex  sync.RWMutex
)

// LoadConfig 加载配置文件
// configPath 为空时按默认搜索路径查找 config.yaml
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// 环境变量覆盖: NEOLEDGER_SERVER_PORT -> server.port
	v.SetEnvPrefix("NEOLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		for _, dir := range defaultSearchPaths() {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	configMutex.Lock()
	GlobalConfig = cfg
	configMutex.Unlock()

	return cfg, nil
}

// GetConfig 获取全局配置（读锁保护，配合热更新使用）
func GetConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return GlobalConfig
}

// defaultSearchPaths 默认配置搜索路径
func defaultSearchPaths() []string {
	paths := []string{"./configs", "."}
	if exe, err := os.Executable(); err == nil {
		paths = append(paths, filepath.Join(filepath.Dir(exe), "configs"))
	}
	return paths
}
