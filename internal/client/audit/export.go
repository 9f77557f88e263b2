package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/iudanet/scorekeeper/internal/models"
)

// Source provides resolution log entries for export
type Source interface {
	// ListResolutions returns all entries ordered by record, then append order
	ListResolutions(ctx context.Context) ([]*models.ResolutionLogEntry, error)
}

// Sink stores an exported resolution log under the given object name
type Sink interface {
	Put(ctx context.Context, name string, body []byte) error
}

// WriteJSONLines пишет записи журнала по одной JSON-строке на запись
func WriteJSONLines(w io.Writer, entries []*models.ResolutionLogEntry) error {
	enc := json.NewEncoder(w)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return fmt.Errorf("failed to encode entry %s: %w", entry.ID, err)
		}
	}
	return nil
}

// ExportName имя объекта выгрузки для момента at
func ExportName(deviceID string, at time.Time) string {
	return fmt.Sprintf("%s-%s.jsonl", deviceID, at.UTC().Format("20060102T150405Z"))
}

// Export выгружает весь журнал в sink под именем name.
// Возвращает количество выгруженных записей.
func Export(ctx context.Context, src Source, sink Sink, name string) (int, error) {
	entries, err := src.ListResolutions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list resolutions: %w", err)
	}

	var buf bytes.Buffer
	if err := WriteJSONLines(&buf, entries); err != nil {
		return 0, err
	}

	if err := sink.Put(ctx, name, buf.Bytes()); err != nil {
		return 0, fmt.Errorf("failed to store export %s: %w", name, err)
	}
	return len(entries), nil
}

// FileSink пишет выгрузки в каталог
type FileSink struct {
	dir string
}

// NewFileSink создает sink, каталог создается при необходимости
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Put атомарно записывает файл: временный файл, затем rename
func (s *FileSink) Put(_ context.Context, name string, body []byte) error {
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid export name %q", name)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o600); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move export into place: %w", err)
	}
	return nil
}

// S3Config параметры выгрузки в S3 или совместимое хранилище
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // minio и другие S3-совместимые хранилища
	// Статические ключи; если пусто - стандартная цепочка AWS (env, профиль, роль)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Sink пишет выгрузки объектами S3
type S3Sink struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Sink создает S3 клиент по конфигурации
func NewS3Sink(ctx context.Context, cfg S3Config) (*S3Sink, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
		// minio и старые S3-совместимые хранилища не принимают aws-chunked тела
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3Sink{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Put загружает выгрузку объектом prefix+name
func (s *S3Sink) Put(ctx context.Context, name string, body []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.prefix + name),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("S3 put object failed: %w", err)
	}
	return nil
}
