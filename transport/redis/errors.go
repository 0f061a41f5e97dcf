package redis

import "strings"

// IsOOMError reports whether err is a Redis OOM rejection
// ("OOM command not allowed when used memory > 'maxmemory'").
//
// OOM rejections are transient: they clear once memory is freed. Journal
// writes count them under their own error type so operators can tell a full
// Redis from an unreachable one.
func IsOOMError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "OOM")
}

// IsBusyGroupError reports whether err says the consumer group already exists.
func IsBusyGroupError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

// IsNoGroupError reports whether err says the consumer group or stream is missing.
func IsNoGroupError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "NOGROUP") || strings.Contains(err.Error(), "no such key"))
}

// errorType labels a Redis error for metrics.
func errorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsOOMError(err):
		return "oom"
	case IsNoGroupError(err):
		return "no_group"
	default:
		return "redis"
	}
}
