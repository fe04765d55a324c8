// Package publish uploads a finished run to S3-compatible object storage.
package publish

import (
	"context"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// Uploader is the slice of the object store client a publisher uses.
type Uploader interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts miniogo.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error)
}

type Publisher struct {
	client Uploader
	bucket string
	prefix string
	logger *zap.Logger
}

func New(cfg Config, logger *zap.Logger) (*Publisher, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("publish needs an endpoint and a bucket")
	}
	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func NewWithClient(client Uploader, bucket, prefix string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: logger}
}

func (p *Publisher) EnsureBucket(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if !exists {
		if err := p.client.MakeBucket(ctx, p.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", p.bucket, err)
		}
		p.logger.Info("bucket created", zap.String("bucket", p.bucket))
	}
	return nil
}

// Result lists the object keys written by Publish.
type Result struct {
	Bucket  string
	Objects []string
}

// Publish uploads each of dirs (relative to runDir) under
// <prefix>/<run name>/, keeping the directory structure. Missing dirs are
// skipped.
func (p *Publisher) Publish(ctx context.Context, runDir string, dirs ...string) (*Result, error) {
	if err := p.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	runName := filepath.Base(filepath.Clean(runDir))
	res := &Result{Bucket: p.bucket}

	for _, dir := range dirs {
		root := filepath.Join(runDir, dir)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			p.logger.Debug("nothing to publish", zap.String("dir", dir))
			continue
		}
		err := filepath.WalkDir(root, func(file string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, err := filepath.Rel(runDir, file)
			if err != nil {
				return err
			}
			key := ObjectKey(p.prefix, runName, rel)
			_, err = p.client.FPutObject(ctx, p.bucket, key, file, miniogo.PutObjectOptions{
				ContentType: contentType(file),
			})
			if err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			p.logger.Debug("uploaded", zap.String("key", key))
			res.Objects = append(res.Objects, key)
			return nil
		})
		if err != nil {
			return res, err
		}
	}
	p.logger.Info("run published",
		zap.String("bucket", p.bucket),
		zap.String("run", runName),
		zap.Int("objects", len(res.Objects)),
	)
	return res, nil
}

// ObjectKey joins the key prefix, run name and a run-relative file path.
func ObjectKey(prefix, runName, rel string) string {
	parts := []string{runName, filepath.ToSlash(rel)}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return path.Join(parts...)
}

func contentType(file string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(file))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
