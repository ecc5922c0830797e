package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 同时兼容 Go Duration 字符串（"30s"、"5m"）与纯秒整数。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别 "30s"、"5m" 或纯数字秒值。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// ByteSize 表示字节数，可写成纯数字或带 K/M/G 后缀（按 1024 进位）。
type ByteSize int64

// ParseByteSize 解析 "512"、"200K"、"100M"、"2G" 这类写法。
func ParseByteSize(raw string) (ByteSize, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1 << 10
	case 'M', 'm':
		mult = 1 << 20
	case 'G', 'g':
		mult = 1 << 30
	}
	if mult > 1 {
		s = strings.TrimSpace(s[:len(s)-1])
	}
	n, err := parseInt(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size value: %s", raw)
	}
	return ByteSize(n * mult), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	v, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// GlobalConfig 描述服务的全部运行时参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	SSLPort         int      `mapstructure:"SSLPort"`
	SSLCertificate  string   `mapstructure:"SSLCertificate"`
	SSLKey          string   `mapstructure:"SSLKey"`
	NThreads        int      `mapstructure:"NThreads"`
	KeepAlive       Duration `mapstructure:"KeepAlive"`
	MaxRequestBody  int      `mapstructure:"MaxRequestBody"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`

	ImgRoot        string   `mapstructure:"ImgRoot"`
	PrefixAsPath   bool     `mapstructure:"PrefixAsPath"`
	SubdirLevels   int      `mapstructure:"SubdirLevels"`
	SubdirExcludes []string `mapstructure:"SubdirExcludes"`
	InitScript     string   `mapstructure:"InitScript"`
	JPEGQuality    int      `mapstructure:"JPEGQuality"`
	DocRoot        string   `mapstructure:"DocRoot"`
	DocRoute       string   `mapstructure:"DocRoute"`

	CacheDir        string   `mapstructure:"CacheDir"`
	CacheSize       ByteSize `mapstructure:"CacheSize"`
	CacheNFiles     int      `mapstructure:"CacheNFiles"`
	CacheHysteresis float64  `mapstructure:"CacheHysteresis"`

	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// Config 对应解码后的 TOML 文件。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
}

// CacheEnabled 判断是否启用磁盘缓存。
func (g GlobalConfig) CacheEnabled() bool {
	return strings.TrimSpace(g.CacheDir) != ""
}

// TLSEnabled 判断是否配置了 TLS 监听。
func (g GlobalConfig) TLSEnabled() bool {
	return g.SSLPort > 0
}
