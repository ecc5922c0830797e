package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，注入默认值并完成校验；目录类配置统一转为绝对路径。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	hooks := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), byteSizeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hooks)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := absolutize(&cfg.Global); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 1024)
	v.SetDefault("SSLPort", 0)
	v.SetDefault("NThreads", 2*runtime.NumCPU())
	v.SetDefault("KeepAlive", "5s")
	v.SetDefault("MaxRequestBody", 4*1024*1024)
	v.SetDefault("ShutdownTimeout", "10s")
	v.SetDefault("PrefixAsPath", true)
	v.SetDefault("SubdirLevels", 0)
	v.SetDefault("JPEGQuality", 80)
	v.SetDefault("DocRoute", "/server")
	v.SetDefault("CacheSize", "0")
	v.SetDefault("CacheNFiles", 0)
	v.SetDefault("CacheHysteresis", 0.15)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.NThreads == 0 {
		g.NThreads = 2 * runtime.NumCPU()
	}
	if g.KeepAlive.DurationValue() == 0 {
		g.KeepAlive = Duration(5 * time.Second)
	}
	if g.ShutdownTimeout.DurationValue() == 0 {
		g.ShutdownTimeout = Duration(10 * time.Second)
	}
	if g.JPEGQuality == 0 {
		g.JPEGQuality = 80
	}
	if route := strings.TrimSpace(g.DocRoute); route != "" && !strings.HasPrefix(route, "/") {
		g.DocRoute = "/" + route
	}
	for i, dir := range g.SubdirExcludes {
		g.SubdirExcludes[i] = strings.Trim(strings.TrimSpace(dir), "/")
	}
}

func absolutize(g *GlobalConfig) error {
	for _, field := range []struct {
		name string
		ptr  *string
	}{
		{"ImgRoot", &g.ImgRoot},
		{"CacheDir", &g.CacheDir},
		{"DocRoot", &g.DocRoot},
		{"InitScript", &g.InitScript},
	} {
		if strings.TrimSpace(*field.ptr) == "" {
			continue
		}
		abs, err := filepath.Abs(*field.ptr)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", field.name, err)
		}
		*field.ptr = abs
	}
	return nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("invalid duration: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type: %T", v)
		}
	}
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(ByteSize(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return ParseByteSize(v)
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(int64(v)), nil
		case ByteSize:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported size type: %T", v)
		}
	}
}
