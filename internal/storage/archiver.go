package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/digkill/leadmail/internal/config"
	"github.com/digkill/leadmail/internal/models"
)

type Config struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
	Prefix       string
}

func ConfigFrom(cfg config.Config) Config {
	return Config{
		Endpoint:     cfg.S3Endpoint,
		Region:       cfg.S3Region,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		Bucket:       cfg.S3Bucket,
		UsePathStyle: cfg.S3UsePathStyle,
		Prefix:       cfg.S3Prefix,
	}
}

// RunArchiver writes each prompt run as a JSON object to S3-compatible
// storage.
type RunArchiver struct {
	cfg    Config
	client *s3.Client
}

func NewRunArchiver(cfg Config) (*RunArchiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "prompt-runs"
	}

	options := s3.Options{
		Region:                     cfg.Region,
		Credentials:                credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle:               cfg.UsePathStyle,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &RunArchiver{
		cfg:    cfg,
		client: s3.New(options),
	}, nil
}

func (a *RunArchiver) Archive(ctx context.Context, run *models.PromptRun) error {
	if run.ID == "" {
		return fmt.Errorf("prompt run has no id")
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal prompt run: %w", err)
	}

	key := a.Key(run)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload prompt run to s3: %w", err)
	}
	return nil
}

// Key places runs under prefix/user/YYYY/MM/DD/<run id>.json.
func (a *RunArchiver) Key(run *models.PromptRun) string {
	created := run.CreatedAt.UTC()
	prefix := strings.Trim(a.cfg.Prefix, "/")
	return path.Join(prefix, keySegment(run.UserID), fmt.Sprintf("%04d/%02d/%02d", created.Year(), created.Month(), created.Day()), keySegment(run.ID)+".json")
}

// keySegment escapes a caller-supplied value into a single key segment, so
// slashes and dot segments cannot move the object outside the prefix.
func keySegment(s string) string {
	escaped := url.PathEscape(s)
	if escaped == "." || escaped == ".." {
		return strings.ReplaceAll(escaped, ".", "%2E")
	}
	return escaped
}
