package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"worker-preview/constant"
)

type Config struct {
	App        App
	Server     Server
	Broker     Broker
	RabbitMQ   RabbitMQ
	Kafka      Kafka
	Topics     Topics
	Database   Database
	Storage    Storage
	MinIO      MinIO
	S3         S3
	Buckets    Buckets
	Scratch    Scratch
	Transcoder Transcoder
	Tracing    Tracing
}

type App struct {
	Environment string
}

type Server struct {
	HttpPort  string
	Workers   int
	QueueSize int
}

type Broker struct {
	Driver string
}

type RabbitMQ struct {
	Host     string
	Port     int
	User     string
	Pass     string
	Exchange string
	Kind     string
	Queue    string
	Prefetch int
}

type Kafka struct {
	Brokers []string
	GroupID string
}

type Topics struct {
	Videos     string
	Previews   string
	Thumbnails string
}

type Database struct {
	Driver string
	DSN    string
}

type Storage struct {
	Driver string
}

type MinIO struct {
	URL             string
	AccessID        string
	SecretAccessKey string
	UseSSL          bool
}

type S3 struct {
	Region          string
	Endpoint        string
	AccessID        string
	SecretAccessKey string
}

type Buckets struct {
	Videos     string
	Previews   string
	Thumbnails string
}

type Scratch struct {
	Root          string
	MaxAge        time.Duration
	SweepSchedule string
}

type Transcoder struct {
	FFmpeg  string
	FFprobe string
	Timeout time.Duration
}

type Tracing struct {
	Endpoint string
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == constant.EnvironmentProduction.String()
}

func (c *Config) IsDevelop() bool {
	return c.App.Environment == constant.EnvironmentDevelop.String()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", constant.EnvironmentDevelop.String())

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.workers", 2)
	v.SetDefault("server.queue_size", 16)

	v.SetDefault("broker.driver", constant.BrokerRabbitMQ)
	v.SetDefault("rabbitmq.host", "localhost")
	v.SetDefault("rabbitmq.port", 5672)
	v.SetDefault("rabbitmq.user", "guest")
	v.SetDefault("rabbitmq.pass", "guest")
	v.SetDefault("rabbitmq.exchange", "video_exchange")
	v.SetDefault("rabbitmq.kind", "topic")
	v.SetDefault("rabbitmq.queue", "derivative_queue")
	v.SetDefault("rabbitmq.prefetch", 4)
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.group_id", "transcoding-service")

	v.SetDefault("topics.videos", "video.events")
	v.SetDefault("topics.previews", "video.preview.events")
	v.SetDefault("topics.thumbnails", "video.thumbnail.events")

	v.SetDefault("database.driver", constant.DatabasePostgres)
	v.SetDefault("database.dsn", "")

	v.SetDefault("storage.driver", constant.StorageMinIO)
	v.SetDefault("minio.url", "localhost:9000")
	v.SetDefault("minio.access_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("buckets.videos", "videos")
	v.SetDefault("buckets.previews", "previews")
	v.SetDefault("buckets.thumbnails", "thumbnails")

	v.SetDefault("scratch.root", "temp")
	v.SetDefault("scratch.max_age", "24h")
	v.SetDefault("scratch.sweep_schedule", "@hourly")

	v.SetDefault("transcoder.ffmpeg", "ffmpeg")
	v.SetDefault("transcoder.ffprobe", "ffprobe")
	v.SetDefault("transcoder.timeout", "0s")

	v.SetDefault("tracing.endpoint", "")
}

// Load reads config.yaml from path (optional), an optional .env file in the
// same directory, and environment variables such as RABBITMQ_HOST, which
// win over the file.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(path, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		App: App{
			Environment: v.GetString("app.environment"),
		},
		Server: Server{
			HttpPort:  v.GetString("server.port"),
			Workers:   v.GetInt("server.workers"),
			QueueSize: v.GetInt("server.queue_size"),
		},
		Broker: Broker{
			Driver: v.GetString("broker.driver"),
		},
		RabbitMQ: RabbitMQ{
			Host:     v.GetString("rabbitmq.host"),
			Port:     v.GetInt("rabbitmq.port"),
			User:     v.GetString("rabbitmq.user"),
			Pass:     v.GetString("rabbitmq.pass"),
			Exchange: v.GetString("rabbitmq.exchange"),
			Kind:     v.GetString("rabbitmq.kind"),
			Queue:    v.GetString("rabbitmq.queue"),
			Prefetch: v.GetInt("rabbitmq.prefetch"),
		},
		Kafka: Kafka{
			Brokers: splitList(v.GetStringSlice("kafka.brokers")),
			GroupID: v.GetString("kafka.group_id"),
		},
		Topics: Topics{
			Videos:     v.GetString("topics.videos"),
			Previews:   v.GetString("topics.previews"),
			Thumbnails: v.GetString("topics.thumbnails"),
		},
		Database: Database{
			Driver: v.GetString("database.driver"),
			DSN:    v.GetString("database.dsn"),
		},
		Storage: Storage{
			Driver: v.GetString("storage.driver"),
		},
		MinIO: MinIO{
			URL:             v.GetString("minio.url"),
			AccessID:        v.GetString("minio.access_id"),
			SecretAccessKey: v.GetString("minio.secret_access_key"),
			UseSSL:          v.GetBool("minio.use_ssl"),
		},
		S3: S3{
			Region:          v.GetString("s3.region"),
			Endpoint:        v.GetString("s3.endpoint"),
			AccessID:        v.GetString("s3.access_id"),
			SecretAccessKey: v.GetString("s3.secret_access_key"),
		},
		Buckets: Buckets{
			Videos:     v.GetString("buckets.videos"),
			Previews:   v.GetString("buckets.previews"),
			Thumbnails: v.GetString("buckets.thumbnails"),
		},
		Scratch: Scratch{
			Root:          v.GetString("scratch.root"),
			MaxAge:        v.GetDuration("scratch.max_age"),
			SweepSchedule: v.GetString("scratch.sweep_schedule"),
		},
		Transcoder: Transcoder{
			FFmpeg:  v.GetString("transcoder.ffmpeg"),
			FFprobe: v.GetString("transcoder.ffprobe"),
			Timeout: v.GetDuration("transcoder.timeout"),
		},
		Tracing: Tracing{
			Endpoint: v.GetString("tracing.endpoint"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.Broker.Driver {
	case constant.BrokerRabbitMQ, constant.BrokerKafka, constant.BrokerMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown broker.driver %q", c.Broker.Driver))
	}
	switch c.Database.Driver {
	case constant.DatabasePostgres, constant.DatabaseMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	switch c.Storage.Driver {
	case constant.StorageMinIO, constant.StorageS3, constant.StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}
	if c.Broker.Driver == constant.BrokerKafka && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required for the kafka broker"))
	}
	if c.Server.Workers < 1 {
		errs = append(errs, fmt.Errorf("server.workers must be positive, got %d", c.Server.Workers))
	}
	if c.Scratch.Root == "" {
		errs = append(errs, errors.New("scratch.root is required"))
	}
	if c.Transcoder.Timeout < 0 {
		errs = append(errs, errors.New("transcoder.timeout must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
