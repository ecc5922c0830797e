package logging

import "github.com/sirupsen/logrus"

// BaseFields 返回启动类日志共用的 action 与配置路径字段。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 描述单个图像请求的日志字段。
func RequestFields(prefix, identifier, kind, permission string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"prefix":     prefix,
		"identifier": identifier,
		"kind":       kind,
		"permission": permission,
		"cache_hit":  cacheHit,
	}
}
