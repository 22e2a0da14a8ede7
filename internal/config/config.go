package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalidConfig 所有配置错误都包装此错误，启动时视为致命错误
var ErrInvalidConfig = errors.New("配置无效")

// 支持的注册中心后端
const (
	BackendRedis  = "redis"
	BackendEtcd   = "etcd"
	BackendMemory = "memory"
)

// Config 应用程序配置结构
type Config struct {
	// 注册中心配置
	Registry struct {
		Backend string        `mapstructure:"backend"` // "redis", "etcd" 或 "memory"
		Timeout time.Duration `mapstructure:"timeout"` // 单次注册中心操作超时
	} `mapstructure:"registry"`

	// redis配置
	Redis struct {
		Host       string `mapstructure:"host"`
		Port       int    `mapstructure:"port"`
		Password   string `mapstructure:"password"`
		DB         int    `mapstructure:"db"`
		RecordsKey string `mapstructure:"records_key"` // 存放服务记录的hash
	} `mapstructure:"redis"`

	// etcd配置
	Etcd struct {
		Endpoints []string `mapstructure:"endpoints"`
		Username  string   `mapstructure:"username"`
		Password  string   `mapstructure:"password"`
	} `mapstructure:"etcd"`

	// 对外公布的服务信息
	Service struct {
		Name    string `mapstructure:"name"`
		Host    string `mapstructure:"host"`
		Port    int    `mapstructure:"port"`
		Root    string `mapstructure:"root"`
		Kind    string `mapstructure:"kind"`
		Message string `mapstructure:"message"`
		URI     string `mapstructure:"uri"`
	} `mapstructure:"service"`

	// 本地HTTP服务配置
	HTTP struct {
		ListenAddress   string        `mapstructure:"listen_address"`
		Port            int           `mapstructure:"port"`
		WebRoot         string        `mapstructure:"webroot"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`

	Ping struct {
		DefaultName string `mapstructure:"default_name"`
	} `mapstructure:"ping"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadOptions 加载配置时的可选文件
type LoadOptions struct {
	ConfigFile string // yaml配置文件，为空时按默认路径查找
	EnvFile    string // .env文件，为空时尝试当前目录下的.env
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: configPath})
}

// Load 加载.env、配置文件和环境变量，并校验结果
func Load(opts LoadOptions) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()

	// 设置默认值
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/botsgarden")
	}
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		// 找不到默认配置文件时只使用默认值和环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("%w: 读取配置文件错误: %v", ErrInvalidConfig, err)
		}
	}

	bindEnvVariables(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("%w: 解析配置错误: %v", ErrInvalidConfig, err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// loadEnvFile 将.env文件加载到进程环境变量，已存在的环境变量优先
func loadEnvFile(path string) error {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("%w: 加载环境变量文件 %s 失败: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("registry.backend", BackendRedis)
	v.SetDefault("registry.timeout", 5*time.Second)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.records_key", "vert.x.ms")

	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.username", "")
	v.SetDefault("etcd.password", "")

	v.SetDefault("service.name", "botsgarden")
	v.SetDefault("service.host", "localhost")
	v.SetDefault("service.port", 80)
	v.SetDefault("service.root", "/api")
	v.SetDefault("service.kind", "botsgarden")
	v.SetDefault("service.message", "Hello 🌍")
	v.SetDefault("service.uri", "/ping")

	v.SetDefault("http.listen_address", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.webroot", "webroot")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("ping.default_name", "John Doe")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// envBindings 配置项与环境变量的对应关系
var envBindings = map[string]string{
	"registry.backend": "REGISTRY_BACKEND",
	"registry.timeout": "REGISTRY_TIMEOUT",

	"redis.host":        "REDIS_HOST",
	"redis.port":        "REDIS_PORT",
	"redis.password":    "REDIS_PASSWORD",
	"redis.db":          "REDIS_DB",
	"redis.records_key": "REDIS_RECORDS_KEY",

	"etcd.endpoints": "ETCD_ENDPOINTS",
	"etcd.username":  "ETCD_USERNAME",
	"etcd.password":  "ETCD_PASSWORD",

	"service.name":    "SERVICE_NAME",
	"service.host":    "SERVICE_HOST",
	"service.port":    "SERVICE_PORT",
	"service.root":    "SERVICE_ROOT",
	"service.kind":    "SERVICE_KIND",
	"service.message": "SERVICE_MESSAGE",
	"service.uri":     "SERVICE_URI",

	"http.listen_address":   "LISTEN_ADDRESS",
	"http.port":             "PORT",
	"http.webroot":          "WEBROOT",
	"http.shutdown_timeout": "SHUTDOWN_TIMEOUT",

	"ping.default_name": "PING_DEFAULT_NAME",

	"log.level":       "LOG_LEVEL",
	"log.development": "LOG_DEVELOPMENT",
}

// bindEnvVariables 绑定环境变量，变量名与部署平台保持一致，不加前缀
func bindEnvVariables(v *viper.Viper) {
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
}

// Validate 校验配置取值
func (c *Config) Validate() error {
	switch c.Registry.Backend {
	case BackendRedis, BackendEtcd, BackendMemory:
	default:
		return fmt.Errorf("%w: REGISTRY_BACKEND不支持: %q", ErrInvalidConfig, c.Registry.Backend)
	}

	if err := checkPort("REDIS_PORT", c.Redis.Port, false); err != nil {
		return err
	}
	if err := checkPort("SERVICE_PORT", c.Service.Port, false); err != nil {
		return err
	}
	// 0表示由系统分配端口
	if err := checkPort("PORT", c.HTTP.Port, true); err != nil {
		return err
	}

	if strings.TrimSpace(c.Service.Name) == "" {
		return fmt.Errorf("%w: SERVICE_NAME不能为空", ErrInvalidConfig)
	}
	if c.Redis.RecordsKey == "" {
		return fmt.Errorf("%w: REDIS_RECORDS_KEY不能为空", ErrInvalidConfig)
	}
	if c.Registry.Backend == BackendEtcd && len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("%w: ETCD_ENDPOINTS不能为空", ErrInvalidConfig)
	}
	if c.Registry.Timeout <= 0 {
		return fmt.Errorf("%w: REGISTRY_TIMEOUT必须大于0", ErrInvalidConfig)
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: SHUTDOWN_TIMEOUT必须大于0", ErrInvalidConfig)
	}

	return nil
}

func checkPort(name string, port int, allowZero bool) error {
	lowest := 1
	if allowZero {
		lowest = 0
	}
	if port < lowest || port > 65535 {
		return fmt.Errorf("%w: %s必须在%d-65535之间，当前值 %d", ErrInvalidConfig, name, lowest, port)
	}
	return nil
}

// normalize 补全可以推断的取值，SERVICE_ROOT缺少开头的/时自动补上
func (c *Config) normalize() {
	if !strings.HasPrefix(c.Service.Root, "/") {
		c.Service.Root = "/" + c.Service.Root
	}
}

// RedisAddr 返回redis地址 host:port
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// ListenAddr 返回本地HTTP监听地址
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.ListenAddress, c.HTTP.Port)
}

// Default 返回只包含默认值的配置，不读取文件和环境变量
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("默认配置无法解析: %v", err))
	}
	return &config
}
