package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/feel-playground/feel-cache/internal/config"
)

// InitLogger 按配置创建 JSON 日志，每条记录都带上当前缓存代际名。
// 日志文件不可写时退回 stdout，并记录一条 logger_fallback。
func InitLogger(cfg *config.Config) (*logrus.Logger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置为空")
	}
	level, err := logrus.ParseLevel(cfg.Global.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	store := cfg.Store.StoreName()
	output, outErr := openOutput(cfg.Global)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.AddHook(storeHook{store: store})

	// 第三方库经由 logrus 全局实例输出时保持同一格式。
	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.Global.LogFilePath,
		}).Warn(outErr.Error())
	}
	return logger, nil
}

// openOutput 返回日志 Writer；未配置文件时使用 stdout。
func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// storeHook 为未显式携带 store 字段的记录补上缓存代际名。
type storeHook struct {
	store string
}

func (storeHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h storeHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["store"]; !ok && h.store != "" {
		entry.Data["store"] = h.store
	}
	return nil
}
