package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cache 快照缓存接口
// 用于缓存引擎能力探测等可重算的快照，正确性从不依赖缓存命中
type Cache interface {
	Get(key string) (value string, found bool, err error)
	Set(key string, value string, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Factory 缓存工厂函数类型
type Factory func(config Config) (Cache, error)

// 注册的缓存实现
var registry = make(map[string]Factory)

// RegisterCache 注册缓存实现
func RegisterCache(name string, factory Factory) {
	registry[name] = factory
}

// NewCache 创建缓存实例
func NewCache(config Config) (Cache, error) {
	if factory, ok := registry[config.Type]; ok {
		return factory(config)
	}
	// 默认使用内存缓存
	return NewMemoryCache(config)
}

// Config 缓存配置
type Config struct {
	Type            string        // 缓存类型: "memory", "redis"
	RedisAddr       string        // Redis连接地址
	RedisPassword   string        // Redis密码
	RedisDB         int           // Redis数据库编号
	DefaultTTL      time.Duration // 默认过期时间
	CleanupInterval time.Duration // 自动清理间隔（仅内存缓存）
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		DefaultTTL:      time.Hour,
		CleanupInterval: time.Minute * 10,
	}
}

// GetJSON 读取缓存中的JSON快照并反序列化
func GetJSON(c Cache, key string, out interface{}) (bool, error) {
	raw, found, err := c.Get(key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		// 损坏的快照按未命中处理
		_ = c.Delete(key)
		return false, nil
	}
	return true, nil
}

// SetJSON 序列化快照并写入缓存
func SetJSON(c Cache, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %v", err)
	}
	return c.Set(key, string(data), ttl)
}

// Key 生成标准化的缓存键
func Key(prefix string, parts ...string) string {
	if len(parts) == 0 {
		return prefix
	}
	return prefix + ":" + strings.Join(parts, ":")
}
