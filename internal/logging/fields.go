package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供分类/策略/缓存名/命中状态字段，供 fetch 日志复用。
func RequestFields(method, url, category, strategy, cacheName string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"method":     method,
		"url":        url,
		"category":   category,
		"strategy":   strategy,
		"cache_name": cacheName,
		"cache_hit":  cacheHit,
	}
}

// LifecycleFields 提供生命周期事件的基础字段。
func LifecycleFields(event, version string) logrus.Fields {
	return logrus.Fields{
		"action":  event,
		"version": version,
	}
}
