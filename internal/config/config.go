package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义运维 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// SMTPConfig 定义 SMTP 入站网关的配置
type SMTPConfig struct {
	BindAddr       string // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	Domain         string // SMTP 服务器域名，用于 HELO/EHLO 响应
	MaxMessageSize int64  // 单封邮件最大字节数，默认 10MB
	MaxConnections int    // 最大并发连接数，默认 100
}

// QueueConfig 定义消息队列配置
type QueueConfig struct {
	URL        string // RabbitMQ 连接串，留空使用进程内内存队列
	QueueName  string // 工作队列名，默认 "mailsage.ingest.work"
	MaxRetries int64  // 瞬时失败的重投预算，默认 5
	Prefetch   int    // 消费批大小（未确认消息上界），默认 8
}

// EnrichConfig 定义富化 Worker 配置
type EnrichConfig struct {
	InferenceURL     string        // 推理服务地址，留空跳过分类（走默认富化）
	InferenceTimeout time.Duration // 单次推理调用超时，默认 5s
	VectorURL        string        // 向量索引地址，留空跳过向量化
	VectorCollection string        // 向量集合名，默认 "mail-embeddings"
	BodyPrefixLimit  int           // 送入推理的正文截断长度（rune），默认 4000
}

// RelayConfig 定义出站中继配置
type RelayConfig struct {
	Addr     string        // 上游 SMTP 中继地址，留空禁用转发与定时发送
	Username string        // 中继认证用户名，留空不做认证
	Password string        // 中继认证密码
	Timeout  time.Duration // 单次投递超时，默认 15s
}

// DispatchConfig 定义定时发送扫描配置
type DispatchConfig struct {
	Interval time.Duration // 扫描周期，默认 30s
}

// NotifyConfig 定义实时通知配置
type NotifyConfig struct {
	IdleTTL time.Duration // 邮箱 actor 空闲回收时间，默认 30m
}

// BlobConfig 定义 Blob 存储配置
type BlobConfig struct {
	Path string // 本地存储根目录，默认 "./data/blobs"
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到标准输出
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）
type DatabaseConfig struct {
	Type            string        // 数据库类型: "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5 分钟
}

// RedisConfig 定义 Redis 配置（重试计数器）
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
type Config struct {
	Server   ServerConfig   // 运维 HTTP 服务器配置
	SMTP     SMTPConfig     // SMTP 网关配置
	Queue    QueueConfig    // 消息队列配置
	Enrich   EnrichConfig   // 富化 Worker 配置
	Relay    RelayConfig    // 出站中继配置
	Dispatch DispatchConfig // 定时发送配置
	Notify   NotifyConfig   // 实时通知配置
	Blob     BlobConfig     // Blob 存储配置
	CORS     CORSConfig     // 跨域配置
	Log      LogConfig      // 日志配置
	Database DatabaseConfig // 数据库配置
	Redis    RedisConfig    // Redis 配置
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: MAILSAGE_
// 例如: MAILSAGE_SERVER_HOST, MAILSAGE_QUEUE_URL
func Load() (*Config, error) {
	// 尝试加载 .env 文件（静默失败，因为 .env 文件是可选的）
	loadEnvFile()

	viper.SetEnvPrefix("mailsage")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("smtp.bind_addr", ":25")
	viper.SetDefault("smtp.domain", "mailsage.local")
	viper.SetDefault("smtp.max_message_size", 10*1024*1024)
	viper.SetDefault("smtp.max_connections", 100)
	viper.SetDefault("queue.url", "")
	viper.SetDefault("queue.queue_name", "mailsage.ingest.work")
	viper.SetDefault("queue.max_retries", 5)
	viper.SetDefault("queue.prefetch", 8)
	viper.SetDefault("enrich.inference_url", "")
	viper.SetDefault("enrich.inference_timeout", "5s")
	viper.SetDefault("enrich.vector_url", "")
	viper.SetDefault("enrich.vector_collection", "mail-embeddings")
	viper.SetDefault("enrich.body_prefix_limit", 4000)
	viper.SetDefault("relay.addr", "")
	viper.SetDefault("relay.username", "")
	viper.SetDefault("relay.password", "")
	viper.SetDefault("relay.timeout", "15s")
	viper.SetDefault("dispatch.interval", "30s")
	viper.SetDefault("notify.idle_ttl", "30m")
	viper.SetDefault("blob.path", "./data/blobs")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("database.type", "") // 默认为空，使用内存存储
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	inferenceTimeout, err := time.ParseDuration(viper.GetString("enrich.inference_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid enrich.inference_timeout: %w", err)
	}

	relayTimeout, err := time.ParseDuration(viper.GetString("relay.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid relay.timeout: %w", err)
	}

	dispatchInterval, err := time.ParseDuration(viper.GetString("dispatch.interval"))
	if err != nil {
		return nil, fmt.Errorf("invalid dispatch.interval: %w", err)
	}

	idleTTL, err := time.ParseDuration(viper.GetString("notify.idle_ttl"))
	if err != nil {
		return nil, fmt.Errorf("invalid notify.idle_ttl: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	maxRetries := viper.GetInt64("queue.max_retries")
	if maxRetries <= 0 {
		maxRetries = 5
	}

	prefetch := viper.GetInt("queue.prefetch")
	if prefetch <= 0 {
		prefetch = 8
	}

	bodyPrefixLimit := viper.GetInt("enrich.body_prefix_limit")
	if bodyPrefixLimit <= 0 {
		bodyPrefixLimit = 4000
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		SMTP: SMTPConfig{
			BindAddr:       viper.GetString("smtp.bind_addr"),
			Domain:         viper.GetString("smtp.domain"),
			MaxMessageSize: viper.GetInt64("smtp.max_message_size"),
			MaxConnections: viper.GetInt("smtp.max_connections"),
		},
		Queue: QueueConfig{
			URL:        viper.GetString("queue.url"),
			QueueName:  viper.GetString("queue.queue_name"),
			MaxRetries: maxRetries,
			Prefetch:   prefetch,
		},
		Enrich: EnrichConfig{
			InferenceURL:     viper.GetString("enrich.inference_url"),
			InferenceTimeout: inferenceTimeout,
			VectorURL:        viper.GetString("enrich.vector_url"),
			VectorCollection: viper.GetString("enrich.vector_collection"),
			BodyPrefixLimit:  bodyPrefixLimit,
		},
		Relay: RelayConfig{
			Addr:     viper.GetString("relay.addr"),
			Username: viper.GetString("relay.username"),
			Password: viper.GetString("relay.password"),
			Timeout:  relayTimeout,
		},
		Dispatch: DispatchConfig{
			Interval: dispatchInterval,
		},
		Notify: NotifyConfig{
			IdleTTL: idleTTL,
		},
		Blob: BlobConfig{
			Path: viper.GetString("blob.path"),
		},
		CORS: CORSConfig{
			AllowedOrigins: corsOrigins,
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	return cfg, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 依次尝试当前目录和父目录，找到第一个就停止。
func loadEnvFile() {
	candidates := []string{".env", filepath.Join("..", ".env")}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}
