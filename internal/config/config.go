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

// ServerConfig 定义 HTTP 服务器的监听配置参数
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 8080
}

// SMTPConfig 定义 SMTP 邮件接收服务器的配置
type SMTPConfig struct {
	BindAddr        string   // SMTP 服务监听地址，格式 "host:port"，默认 ":25"
	Domain          string   // SMTP 服务器域名，用于 HELO/EHLO 响应
	AllowedDomains  []string // 接收邮件的域名列表，Rcpt 阶段校验
	MaxMessageBytes int64    // 单封邮件大小上限，默认 10MB
}

// MailboxConfig 定义邮箱签发相关配置
type MailboxConfig struct {
	Domain      string        // 新邮箱使用的域名
	TokenExpiry time.Duration // 邮箱令牌有效期，默认 2h
}

// CORSConfig 定义跨域资源共享 (CORS) 配置
type CORSConfig struct {
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空只输出到 stdout
}

// DatabaseKind 标识后端存储家族。
// 后端的区分依赖这个显式标签，绝不通过探测客户端能力推断。
type DatabaseKind string

const (
	// DatabaseTurso 嵌入式复制 SQL 引擎（libsql/Turso），默认后端
	DatabaseTurso DatabaseKind = "turso"
	// DatabasePostgres 关系型 SQL 引擎
	DatabasePostgres DatabaseKind = "postgres"
)

// PostgresClientKind 标识 postgres 连接方式的子选择。
type PostgresClientKind string

const (
	// PostgresClientPooled 经由连接池/无服务器代理（pgbouncer、neon 等），
	// 使用 pgx 简单协议避免预编译语句冲突
	PostgresClientPooled PostgresClientKind = "pooled"
	// PostgresClientDirect 直连数据库套接字（lib/pq）
	PostgresClientDirect PostgresClientKind = "direct"
)

// DatabaseConfig 定义存储后端选择及连接参数
type DatabaseConfig struct {
	Type            DatabaseKind       // 后端类型: "turso" 或 "postgres"，未知值回退 turso
	DSN             string             // postgres 连接字符串
	Client          PostgresClientKind // postgres 客户端子选择: "pooled" 或 "direct"
	MaxOpenConns    int                // 最大打开连接数，默认 25
	MaxIdleConns    int                // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration      // 连接最大生命周期，默认 5 分钟
}

// TursoConfig 定义嵌入式复制 SQL 引擎的连接参数
type TursoConfig struct {
	URL       string // libsql://... 或本地 file:... URL
	AuthToken string // 认证令牌，file: URL 时可省略
}

// RedisConfig 定义 Redis 服务配置（仅用于邮箱签发限流，可选）
type RedisConfig struct {
	Address  string // Redis 服务地址，留空禁用 Redis，退化为进程内限流
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// JWTConfig 定义邮箱令牌签发配置
type JWTConfig struct {
	Secret string // HS256 签名密钥，必须至少 32 字符
	Issuer string // 签发者标识，默认 "vmail"
}

// TurnstileConfig 定义 Cloudflare Turnstile 人机校验配置
type TurnstileConfig struct {
	Secret string // siteverify 密钥，留空跳过校验（仅限开发环境）
}

// IngestConfig 定义接收管道配置
type IngestConfig struct {
	MessageIDSuffix string        // 缺失 Message-ID 时合成 "<id>@<suffix>"
	Timeout         time.Duration // 单封邮件处理超时，默认 10s
}

// RateLimitConfig 定义邮箱签发限流配置
type RateLimitConfig struct {
	MailboxPerMinute int // 单 IP 每分钟可签发的邮箱数，默认 10
}

// Config 是系统核心配置的根结构体，包含所有子系统的配置
//
// 配置在启动时一次性构建并做基础校验，之后显式传给需要它的组件，
// 管道内部不做任何隐式的环境变量读取。
type Config struct {
	Server    ServerConfig
	SMTP      SMTPConfig
	Mailbox   MailboxConfig
	CORS      CORSConfig
	Log       LogConfig
	Database  DatabaseConfig
	Turso     TursoConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Turnstile TurnstileConfig
	Ingest    IngestConfig
	RateLimit RateLimitConfig
}

// Load 从环境变量和 .env 文件加载系统配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量（最高优先级）
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: VMAIL_
// 例如: VMAIL_DATABASE_TYPE, VMAIL_TURSO_URL, VMAIL_JWT_SECRET
//
// 注意：后端连接参数（turso URL/token、postgres DSN）的必填校验
// 不在这里做，而是在后端选择时做——选哪个后端才决定哪些参数必填。
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("vmail")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("smtp.bind_addr", ":25")
	viper.SetDefault("smtp.domain", "vmail.dev")
	viper.SetDefault("smtp.allowed_domains", "")
	viper.SetDefault("smtp.max_message_bytes", 10*1024*1024)
	viper.SetDefault("mailbox.domain", "vmail.dev")
	viper.SetDefault("mailbox.token_expiry", "2h")
	viper.SetDefault("cors.allowed_origins", "*")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("database.type", "")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.client", string(PostgresClientPooled))
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("turso.url", "")
	viper.SetDefault("turso.auth_token", "")
	viper.SetDefault("redis.address", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "")
	viper.SetDefault("jwt.issuer", "vmail")
	viper.SetDefault("turnstile.secret", "")
	viper.SetDefault("ingest.message_id_suffix", "vmail.generated")
	viper.SetDefault("ingest.timeout", "10s")
	viper.SetDefault("ratelimit.mailbox_per_minute", 10)

	tokenExpiry, err := time.ParseDuration(viper.GetString("mailbox.token_expiry"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailbox.token_expiry: %w", err)
	}

	connMaxLifetime, err := time.ParseDuration(viper.GetString("database.conn_max_lifetime"))
	if err != nil {
		connMaxLifetime = 5 * time.Minute
	}

	ingestTimeout, err := time.ParseDuration(viper.GetString("ingest.timeout"))
	if err != nil {
		ingestTimeout = 10 * time.Second
	}

	corsOrigins := parseList(viper.GetString("cors.allowed_origins"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}

	mailboxDomain := strings.ToLower(strings.TrimSpace(viper.GetString("mailbox.domain")))
	if mailboxDomain == "" {
		return nil, fmt.Errorf("mailbox.domain must not be empty")
	}

	smtpDomains := parseDomains(viper.GetString("smtp.allowed_domains"))
	if len(smtpDomains) == 0 {
		smtpDomains = []string{mailboxDomain}
	}

	client := PostgresClientKind(strings.ToLower(viper.GetString("database.client")))
	if client != PostgresClientPooled && client != PostgresClientDirect {
		return nil, fmt.Errorf("invalid database.client %q (supported: pooled, direct)", client)
	}

	jwtSecret := viper.GetString("jwt.secret")
	if jwtSecret != "" && len(jwtSecret) < 32 {
		return nil, fmt.Errorf("jwt.secret must be at least 32 characters long")
	}

	perMinute := viper.GetInt("ratelimit.mailbox_per_minute")
	if perMinute <= 0 {
		perMinute = 10
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		SMTP: SMTPConfig{
			BindAddr:        viper.GetString("smtp.bind_addr"),
			Domain:          viper.GetString("smtp.domain"),
			AllowedDomains:  smtpDomains,
			MaxMessageBytes: viper.GetInt64("smtp.max_message_bytes"),
		},
		Mailbox: MailboxConfig{
			Domain:      mailboxDomain,
			TokenExpiry: tokenExpiry,
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
			Type:            DatabaseKind(strings.ToLower(viper.GetString("database.type"))),
			DSN:             viper.GetString("database.dsn"),
			Client:          client,
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: connMaxLifetime,
		},
		Turso: TursoConfig{
			URL:       viper.GetString("turso.url"),
			AuthToken: viper.GetString("turso.auth_token"),
		},
		Redis: RedisConfig{
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret: jwtSecret,
			Issuer: viper.GetString("jwt.issuer"),
		},
		Turnstile: TurnstileConfig{
			Secret: viper.GetString("turnstile.secret"),
		},
		Ingest: IngestConfig{
			MessageIDSuffix: viper.GetString("ingest.message_id_suffix"),
			Timeout:         ingestTimeout,
		},
		RateLimit: RateLimitConfig{
			MailboxPerMinute: perMinute,
		},
	}

	return cfg, nil
}

// parseDomains 将逗号分隔的域名字符串解析为小写域名数组
func parseDomains(value string) []string {
	out := parseList(value)
	for i := range out {
		out[i] = strings.ToLower(out[i])
	}
	return out
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
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 文件不存在时静默失败（.env 是可选的），已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
