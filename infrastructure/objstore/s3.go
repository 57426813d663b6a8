package objstore

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/zapfunnel/zapfunnel/core/config"
)

// Store uploads inbound media to an S3-compatible bucket and hands back a
// public URL for persistence. A nil Store (S3 disabled) is valid; Upload then
// reports ErrDisabled and callers fall back to a placeholder.
type Store struct {
	client *s3.Client
	cfg    config.StorageConfig
}

var ErrDisabled = fmt.Errorf("object storage disabled")

// New builds the store from static credentials. Returns (nil, nil) when S3 is
// disabled so callers can wire the absence explicitly.
func New(cfg config.StorageConfig) (*Store, error) {
	if !cfg.S3Enabled {
		return nil, nil
	}
	if cfg.S3Bucket == "" || cfg.S3AccessKey == "" || cfg.S3SecretKey == "" {
		return nil, fmt.Errorf("incomplete S3 configuration: bucket and credentials are required")
	}

	awsCfg := aws.Config{
		Region:      cfg.S3Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
	}

	if cfg.S3Endpoint != "" {
		endpoint := cfg.S3Endpoint
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				if service == s3.ServiceID {
					return aws.Endpoint{
						URL:               endpoint,
						HostnameImmutable: cfg.S3PathStyle,
					}, nil
				}
				return aws.Endpoint{}, &aws.EndpointNotFoundError{}
			})
	}

	// Dots in the bucket name break virtual-host TLS, force path style.
	usePathStyle := cfg.S3PathStyle || strings.Contains(cfg.S3Bucket, ".")

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})

	logrus.WithFields(logrus.Fields{
		"bucket":   cfg.S3Bucket,
		"region":   cfg.S3Region,
		"endpoint": cfg.S3Endpoint,
	}).Info("[OBJSTORE] S3 client initialized")

	return &Store{client: client, cfg: cfg}, nil
}

// BuildKey derives a stable object key from message coordinates.
// Layout: connections/<id>/<yyyy>/<mm>/<dd>/<mediaType>/<messageID><ext>
func BuildKey(connectionID, messageID, mimeType string) string {
	now := time.Now().UTC()

	mediaType := "documents"
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		mediaType = "images"
	case strings.HasPrefix(mimeType, "video/"):
		mediaType = "videos"
	case strings.HasPrefix(mimeType, "audio/"):
		mediaType = "audio"
	}

	return fmt.Sprintf("connections/%s/%s/%s/%s%s",
		connectionID,
		now.Format("2006/01/02"),
		mediaType,
		messageID,
		extFor(mimeType),
	)
}

func extFor(mimeType string) string {
	switch {
	case strings.Contains(mimeType, "jpeg"), strings.Contains(mimeType, "jpg"):
		return ".jpg"
	case strings.Contains(mimeType, "png"):
		return ".png"
	case strings.Contains(mimeType, "gif"):
		return ".gif"
	case strings.Contains(mimeType, "webp"):
		return ".webp"
	case strings.Contains(mimeType, "mp4"):
		return ".mp4"
	case strings.Contains(mimeType, "ogg"):
		return ".ogg"
	case strings.Contains(mimeType, "opus"):
		return ".opus"
	case strings.Contains(mimeType, "pdf"):
		return ".pdf"
	default:
		return ".bin"
	}
}

// Upload stores the payload and returns its public URL.
func (s *Store) Upload(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	if s == nil || s.client == nil {
		return "", ErrDisabled
	}

	contentType := mimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	input := &s3.PutObjectInput{
		Bucket:       aws.String(s.cfg.S3Bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(data),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String("public, max-age=3600"),
	}
	if strings.HasPrefix(mimeType, "image/") || strings.HasPrefix(mimeType, "video/") || mimeType == "application/pdf" {
		input.ContentDisposition = aws.String("inline")
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"key":    key,
			"bucket": s.cfg.S3Bucket,
			"size":   len(data),
		}).Error("[OBJSTORE] upload failed")
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	return s.PublicURL(key), nil
}

// PublicURL builds the externally reachable URL for an object key.
func (s *Store) PublicURL(key string) string {
	if s == nil {
		return ""
	}
	if s.cfg.S3PublicURL != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.S3PublicURL, "/"), s.cfg.S3Bucket, key)
	}
	if s.cfg.S3Endpoint != "" && !strings.Contains(s.cfg.S3Endpoint, "amazonaws.com") {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cfg.S3Endpoint, "/"), s.cfg.S3Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.cfg.S3Bucket, s.cfg.S3Region, key)
}

// TestConnection lists a single object to verify credentials and bucket.
func (s *Store) TestConnection(ctx context.Context) error {
	if s == nil || s.client == nil {
		return ErrDisabled
	}
	_, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.cfg.S3Bucket),
		MaxKeys: aws.Int32(1),
	})
	return err
}
