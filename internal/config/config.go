package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Config representa a configuração dos dois serviços. The ingest server
// reads App+Ingest, the indexing consumer reads App+Kafka+Elasticsearch+Redis;
// both can share a single file.
type Config struct {
	App           AppConfig           `yaml:"app"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	Redis         RedisConfig         `yaml:"redis"`
}

// AppConfig configuração geral da aplicação
type AppConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// IngestConfig configuração do servidor de ingestão
type IngestConfig struct {
	Port            int     `yaml:"port"`
	Host            string  `yaml:"host"`
	QueueSize       int     `yaml:"queue_size"`
	BatchSize       int     `yaml:"batch_size"`
	BatchWaitMs     int     `yaml:"batch_wait_ms"`
	LogDir          string  `yaml:"log_dir"`
	SinkEndpoint    string  `yaml:"sink_endpoint"`
	SinkTimeoutSec  int     `yaml:"sink_timeout_sec"`
	SinkFailureRate float64 `yaml:"sink_failure_rate"` // simulated sink only
}

// KafkaConfig configuração do consumidor e do produtor de DLQ
type KafkaConfig struct {
	Brokers  []string        `yaml:"brokers"`
	GroupID  string          `yaml:"group_id"`
	Topic    string          `yaml:"topic"`
	DLQTopic string          `yaml:"dlq_topic"`
	Auth     KafkaAuthConfig `yaml:"auth"`
}

// KafkaAuthConfig autenticação SASL opcional
type KafkaAuthConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mechanism string `yaml:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	UseTLS    bool   `yaml:"use_tls"`
}

// ElasticsearchConfig endereço do índice de produtos
type ElasticsearchConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RedisConfig endereço do cache de produtos
type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoadConfig carrega a configuração a partir de arquivo YAML e variáveis
// de ambiente. File values are loaded first, then defaults fill the gaps,
// then ATLAS_* environment variables override everything.
func LoadConfig(configFile string) (*Config, error) {
	config := &Config{}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configFile, err)
		}
	}

	applyDefaults(config)
	applyEnvironmentOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyDefaults aplica valores padrão à configuração
func applyDefaults(config *Config) {
	// App defaults
	if config.App.Name == "" {
		config.App.Name = "atlas-event-pipeline"
	}
	if config.App.LogLevel == "" {
		config.App.LogLevel = "info"
	}
	if config.App.LogFormat == "" {
		config.App.LogFormat = "json"
	}

	// Ingest defaults
	if config.Ingest.Port == 0 {
		config.Ingest.Port = 8081
	}
	if config.Ingest.Host == "" {
		config.Ingest.Host = "0.0.0.0"
	}
	if config.Ingest.QueueSize == 0 {
		config.Ingest.QueueSize = 10000
	}
	if config.Ingest.BatchSize == 0 {
		config.Ingest.BatchSize = 100
	}
	if config.Ingest.BatchWaitMs == 0 {
		config.Ingest.BatchWaitMs = 1000
	}
	if config.Ingest.LogDir == "" {
		config.Ingest.LogDir = "./ingest_log"
	}
	if config.Ingest.SinkTimeoutSec == 0 {
		config.Ingest.SinkTimeoutSec = 30
	}

	// Kafka defaults
	if len(config.Kafka.Brokers) == 0 {
		config.Kafka.Brokers = []string{"localhost:9092"}
	}
	if config.Kafka.GroupID == "" {
		config.Kafka.GroupID = "product-indexer"
	}
	if config.Kafka.Topic == "" {
		config.Kafka.Topic = "product-events"
	}
	if config.Kafka.DLQTopic == "" {
		config.Kafka.DLQTopic = "product-events-dlq"
	}

	// Elasticsearch defaults
	if config.Elasticsearch.Host == "" {
		config.Elasticsearch.Host = "localhost"
	}
	if config.Elasticsearch.Port == 0 {
		config.Elasticsearch.Port = 9200
	}

	// Redis defaults
	if config.Redis.Host == "" {
		config.Redis.Host = "localhost"
	}
	if config.Redis.Port == 0 {
		config.Redis.Port = 6379
	}
}

// applyEnvironmentOverrides sobrescreve a configuração com variáveis ATLAS_*
func applyEnvironmentOverrides(config *Config) {
	config.App.LogLevel = getEnvString("ATLAS_LOG_LEVEL", config.App.LogLevel)
	config.App.LogFormat = getEnvString("ATLAS_LOG_FORMAT", config.App.LogFormat)

	config.Ingest.Port = getEnvInt("ATLAS_INGEST_PORT", config.Ingest.Port)
	config.Ingest.QueueSize = getEnvInt("ATLAS_INGEST_QUEUE_SIZE", config.Ingest.QueueSize)
	config.Ingest.BatchSize = getEnvInt("ATLAS_INGEST_BATCH_SIZE", config.Ingest.BatchSize)
	config.Ingest.BatchWaitMs = getEnvInt("ATLAS_INGEST_BATCH_WAIT_MS", config.Ingest.BatchWaitMs)
	config.Ingest.LogDir = getEnvString("ATLAS_INGEST_LOG_DIR", config.Ingest.LogDir)
	config.Ingest.SinkEndpoint = getEnvString("ATLAS_INGEST_SINK_ENDPOINT", config.Ingest.SinkEndpoint)

	if brokers := getEnvString("ATLAS_KAFKA_BROKERS", ""); brokers != "" {
		config.Kafka.Brokers = strings.Split(brokers, ",")
	}
	config.Kafka.GroupID = getEnvString("ATLAS_KAFKA_GROUP_ID", config.Kafka.GroupID)
	config.Kafka.Topic = getEnvString("ATLAS_KAFKA_TOPIC", config.Kafka.Topic)
	config.Kafka.DLQTopic = getEnvString("ATLAS_KAFKA_DLQ_TOPIC", config.Kafka.DLQTopic)

	config.Elasticsearch.Host = getEnvString("ATLAS_ES_HOST", config.Elasticsearch.Host)
	config.Elasticsearch.Port = getEnvInt("ATLAS_ES_PORT", config.Elasticsearch.Port)

	config.Redis.Host = getEnvString("ATLAS_REDIS_HOST", config.Redis.Host)
	config.Redis.Port = getEnvInt("ATLAS_REDIS_PORT", config.Redis.Port)
}

// Validate verifica limites básicos da configuração
func (c *Config) Validate() error {
	if c.Ingest.Port < 1 || c.Ingest.Port > 65535 {
		return fmt.Errorf("config: invalid ingest port %d", c.Ingest.Port)
	}
	if c.Ingest.QueueSize < 1 {
		return fmt.Errorf("config: queue_size must be positive, got %d", c.Ingest.QueueSize)
	}
	if c.Ingest.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.BatchWaitMs < 1 {
		return fmt.Errorf("config: batch_wait_ms must be positive, got %d", c.Ingest.BatchWaitMs)
	}
	if c.Ingest.SinkFailureRate < 0.0 || c.Ingest.SinkFailureRate > 1.0 {
		return fmt.Errorf("config: sink_failure_rate must be within [0.0, 1.0], got %f", c.Ingest.SinkFailureRate)
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: no kafka brokers configured")
	}
	if c.Elasticsearch.Port < 1 || c.Elasticsearch.Port > 65535 {
		return fmt.Errorf("config: invalid elasticsearch port %d", c.Elasticsearch.Port)
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("config: invalid redis port %d", c.Redis.Port)
	}
	return nil
}

// ESAddress retorna o endereço base do Elasticsearch
func (c *Config) ESAddress() string {
	return fmt.Sprintf("http://%s:%d", c.Elasticsearch.Host, c.Elasticsearch.Port)
}

// RedisAddress retorna o endereço host:port do Redis
func (c *Config) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
