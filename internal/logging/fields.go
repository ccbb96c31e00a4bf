package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// QueryFields 提供查询缓存日志的公共字段。
func QueryFields(action, op, key string) logrus.Fields {
	return logrus.Fields{
		"action":    action,
		"operation": op,
		"query_key": key,
	}
}

// MutationFields 提供变更协调器日志的公共字段。
func MutationFields(mutationID, kind, parcelID string) logrus.Fields {
	return logrus.Fields{
		"action":      "mutation",
		"mutation_id": mutationID,
		"kind":        kind,
		"parcel_id":   parcelID,
	}
}
