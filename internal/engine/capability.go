package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fyerfyer/pdf-transcriber/config"
	"github.com/fyerfyer/pdf-transcriber/internal/cache"
)

// Snapshot 缓存的引擎能力快照
type Snapshot struct {
	EngineVersion    string    `json:"engine_version"`
	SupportedOptions []string  `json:"supported_options"`
	DetectedAt       time.Time `json:"detected_at"`
}

// Detector 引擎能力探测器
// 一个任务只探测一次，结果按引擎命令行缓存
type Detector struct {
	cfg    *config.Config
	cache  cache.Cache
	logger *logrus.Logger
}

// NewDetector 创建能力探测器
func NewDetector(cfg *config.Config, c cache.Cache, logger *logrus.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		cache:  c,
		logger: logger,
	}
}

// Detect 探测引擎能力，缓存命中时跳过子进程调用
// 缓存只是加速手段，探测失败从不依据过期快照兜底
func (d *Detector) Detect(ctx context.Context, eng Engine) (Snapshot, error) {
	key := d.cacheKey(eng)

	if d.cache != nil {
		var snap Snapshot
		found, err := cache.GetJSON(d.cache, key, &snap)
		if err != nil {
			d.logger.WithError(err).Warn("capability cache read failed, probing engine")
		} else if found {
			d.logger.WithFields(logrus.Fields{
				"engine":  eng.Name(),
				"version": snap.EngineVersion,
			}).Debug("capability snapshot served from cache")
			return snap, nil
		}
	}

	caps, err := eng.Capabilities(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to detect engine capabilities: %v", err)
	}

	snap := Snapshot{
		EngineVersion:    caps.EngineVersion,
		SupportedOptions: caps.SupportedOptions,
		DetectedAt:       time.Now().UTC(),
	}

	if d.cache != nil {
		if err := cache.SetJSON(d.cache, key, snap, 0); err != nil {
			d.logger.WithError(err).Warn("failed to cache capability snapshot")
		}
	}

	d.logger.WithFields(logrus.Fields{
		"engine":    eng.Name(),
		"version":   snap.EngineVersion,
		"supported": len(snap.SupportedOptions),
	}).Info("engine capabilities detected")

	return snap, nil
}

// cacheKey 按引擎名和命令行生成缓存键
// 命令行变化意味着引擎可能换了版本，快照随之失效
func (d *Detector) cacheKey(eng Engine) string {
	return cache.Key("engine_caps", eng.Name(), strings.Join(d.cfg.Engine.Command, " "))
}

// Intersect 求请求选项与引擎能力的交集
// 返回可下发的选项集和按名字排序的被忽略选项列表
func Intersect(requested map[string]interface{}, snap Snapshot) (map[string]interface{}, []string) {
	supported := make(map[string]struct{}, len(snap.SupportedOptions))
	for _, name := range snap.SupportedOptions {
		supported[name] = struct{}{}
	}

	applied := make(map[string]interface{}, len(requested))
	var ignored []string
	for name, value := range requested {
		if _, ok := supported[name]; ok {
			applied[name] = value
		} else {
			ignored = append(ignored, name)
		}
	}
	sort.Strings(ignored)

	return applied, ignored
}
