package config

import (
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 校验配置语义，错误配置不会启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("ListenPort", "must be within 1-65535")
	}
	if g.SSLPort < 0 || g.SSLPort > 65535 {
		return newFieldError("SSLPort", "must be within 0-65535")
	}
	if g.SSLPort > 0 {
		if g.SSLPort == g.ListenPort {
			return newFieldError("SSLPort", "must differ from ListenPort")
		}
		if strings.TrimSpace(g.SSLCertificate) == "" {
			return newFieldError("SSLCertificate", "required when SSLPort is set")
		}
		if strings.TrimSpace(g.SSLKey) == "" {
			return newFieldError("SSLKey", "required when SSLPort is set")
		}
	}
	if g.NThreads <= 0 {
		return newFieldError("NThreads", "must be greater than 0")
	}
	if g.KeepAlive.DurationValue() <= 0 {
		return newFieldError("KeepAlive", "must be greater than 0")
	}
	if g.MaxRequestBody < 0 {
		return newFieldError("MaxRequestBody", "must not be negative")
	}
	if g.ShutdownTimeout.DurationValue() <= 0 {
		return newFieldError("ShutdownTimeout", "must be greater than 0")
	}

	if strings.TrimSpace(g.ImgRoot) == "" {
		return newFieldError("ImgRoot", "must not be empty")
	}
	if g.SubdirLevels < 0 || g.SubdirLevels > 6 {
		return newFieldError("SubdirLevels", "must be within 0-6")
	}
	if g.JPEGQuality < 1 || g.JPEGQuality > 100 {
		return newFieldError("JPEGQuality", "must be within 1-100")
	}
	if g.DocRoot != "" && (g.DocRoute == "" || g.DocRoute == "/") {
		return newFieldError("DocRoute", "must name a path below / when DocRoot is set")
	}

	if g.CacheSize < 0 {
		return newFieldError("CacheSize", "must not be negative")
	}
	if g.CacheNFiles < 0 {
		return newFieldError("CacheNFiles", "must not be negative")
	}
	if g.CacheHysteresis < 0 || g.CacheHysteresis >= 1 {
		return newFieldError("CacheHysteresis", "must be within [0, 1)")
	}

	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("LogLevel", "unknown level "+g.LogLevel)
	}
	if g.LogMaxSize < 0 || g.LogMaxBackups < 0 {
		return newFieldError("LogMaxSize", "rotation settings must not be negative")
	}
	return nil
}
