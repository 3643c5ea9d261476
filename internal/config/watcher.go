// 配置热更新
// 监听配置文件变化，当前仅对日志级别做热生效，其余字段需要重启
package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// WatchConfig 监听配置文件变化
// onChange 在配置重新加载成功后被调用，加载失败时保留旧配置
func WatchConfig(configPath string, onChange func(*Config)) error {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			return
		}
		applyDefaults(cfg)
		if err := cfg.Validate(); err != nil {
			return
		}

		configMutex.Lock()
		GlobalConfig = cfg
		configMutex.Unlock()

		if onChange != nil {
			onChange(cfg)
		}
	})
	v.WatchConfig()

	return nil
}
