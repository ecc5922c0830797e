package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/imghub/imghub/internal/config"
	"github.com/imghub/imghub/internal/version"
)

// ServiceName 写入每条日志，便于在共享的日志采集中区分 imghub。
const ServiceName = "imghub"

// InitLogger 根据全局配置初始化 JSON 结构化日志，并同步到 logrus 默认实例；
// 日志文件不可写时降级到 stdout，原因记录为第一条日志。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	var out io.Writer = os.Stdout
	var fallback error
	if cfg.LogFilePath != "" {
		if err := checkWritable(cfg.LogFilePath); err != nil {
			fallback = err
		} else {
			out = &lumberjack.Logger{
				Filename:   cfg.LogFilePath,
				MaxSize:    cfg.LogMaxSize,
				MaxBackups: cfg.LogMaxBackups,
				Compress:   cfg.LogCompress,
				LocalTime:  true,
			}
		}
	}

	logger := &logrus.Logger{
		Out:       out,
		Formatter: &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano},
		Hooks:     make(logrus.LevelHooks),
		Level:     level,
		ExitFunc:  os.Exit,
	}
	logger.AddHook(serviceHook{version: version.Full()})

	std := logrus.StandardLogger()
	std.SetFormatter(logger.Formatter)
	std.SetOutput(logger.Out)
	std.SetLevel(level)
	std.ReplaceHooks(logger.Hooks)

	if fallback != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).WithError(fallback).Warn("log_file_unusable")
	}
	return logger, nil
}

// checkWritable 创建日志目录并以追加方式打开文件，确认可写。
func checkWritable(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	return f.Close()
}

// serviceHook 为每条日志补充服务名与版本号，调用方已设置时不覆盖。
type serviceHook struct {
	version string
}

func (serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = ServiceName
	}
	if _, ok := e.Data["version"]; !ok {
		e.Data["version"] = h.version
	}
	return nil
}
