package rootbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/renameio"
)

// R2Client wraps the S3 client for Cloudflare R2 (or any S3-compatible endpoint).
type R2Client struct {
	Client     *s3.Client
	BucketName string
	Prefix     string
}

// r2Configured reports whether the remote cache credentials are all present.
func r2Configured(cfg *Config) bool {
	for _, k := range []string{"R2_ACCESS_KEY_ID", "R2_SECRET_ACCESS_KEY", "R2_BUCKET_NAME"} {
		if cfg.Get(k, "") == "" {
			return false
		}
	}
	return cfg.Get("R2_ACCOUNT_ID", "") != "" || cfg.Get("R2_ENDPOINT", "") != ""
}

// NewR2Client initializes a new R2 client using configuration values.
func NewR2Client(ctx context.Context, cfg *Config) (*R2Client, error) {
	accountID := cfg.Get("R2_ACCOUNT_ID", "")
	accessKey := cfg.Get("R2_ACCESS_KEY_ID", "")
	secretKey := cfg.Get("R2_SECRET_ACCESS_KEY", "")
	bucketName := cfg.Get("R2_BUCKET_NAME", "")

	if accessKey == "" || secretKey == "" || bucketName == "" {
		return nil, fmt.Errorf("R2 credentials missing in configuration (R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY, R2_BUCKET_NAME)")
	}
	endpoint := cfg.Get("R2_ENDPOINT", "")
	if endpoint == "" {
		if accountID == "" {
			return nil, fmt.Errorf("R2_ACCOUNT_ID or R2_ENDPOINT must be set")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	}

	options := []func(*config.LoadOptions) error{
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion(cfg.Get("R2_REGION", "auto")),
	}
	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load R2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &R2Client{
		Client:     client,
		BucketName: bucketName,
		Prefix:     cfg.Get("R2_PREFIX", "rootbox"),
	}, nil
}

func (r *R2Client) objectKey(key CacheKey) string {
	return path.Join(r.Prefix, key.ArchiveName())
}

// Download fetches the archive for key into destPath. A missing object is (false, nil).
func (r *R2Client) Download(ctx context.Context, key CacheKey, destPath string) (bool, error) {
	lock, err := lockExclusive(destPath)
	if err != nil {
		return false, err
	}
	defer lock.Release()

	output, err := r.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.BucketName),
		Key:    aws.String(r.objectKey(key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return false, nil
		}
		return false, err
	}
	defer output.Body.Close()

	pending, err := renameio.TempFile("", destPath)
	if err != nil {
		return false, err
	}
	defer pending.Cleanup()

	if _, err := io.Copy(pending, output.Body); err != nil {
		return false, fmt.Errorf("download %s: %w", r.objectKey(key), err)
	}
	if err := pending.Chmod(0o644); err != nil {
		return false, err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return false, err
	}
	return true, nil
}

// Upload stores a local archive under the key's object name.
func (r *R2Client) Upload(ctx context.Context, key CacheKey, srcPath string) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	_, err = r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.BucketName),
		Key:           aws.String(r.objectKey(key)),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String("application/zstd"),
	})
	if err != nil {
		return err
	}
	step("Uploaded sandbox archive to remote cache (%s)", humanReadableSize(stat.Size()))
	return nil
}

func humanReadableSize(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
