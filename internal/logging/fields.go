package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供缓存名/方法/命中状态字段，供拦截请求日志复用。
func RequestFields(store, method, url, clientID string, cacheHit bool) logrus.Fields {
	fields := logrus.Fields{
		"store":     store,
		"method":    method,
		"url":       url,
		"cache_hit": cacheHit,
	}
	if clientID != "" {
		fields["client_id"] = clientID
	}
	return fields
}

// KeyFields 用于后台回写/通知日志，定位到具体缓存键。
func KeyFields(action, store, key string) logrus.Fields {
	return logrus.Fields{
		"action": action,
		"store":  store,
		"key":    key,
	}
}
