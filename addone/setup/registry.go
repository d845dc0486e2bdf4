package setup

import "sync"

// 注册中心，按平台名称获取配置插件
var (
	registryMu sync.RWMutex
	registry   = map[string]SetupPlugin{
		"default": &DefaultPlugin{},
	}
)

// Register 注册一个配置插件
func Register(name string, plugin SetupPlugin) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = plugin
}

// Get 获取指定平台的配置插件，不存在则返回 default
func Get(name string) SetupPlugin {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if p, ok := registry[name]; ok {
		return p
	}
	return registry["default"]
}

// Platforms 已注册的平台名称
func Platforms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
