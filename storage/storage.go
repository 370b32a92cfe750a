package storage

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/nijaru/scriptparser/config"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Client uploads local media to an S3-compatible bucket and hands back a
// public URL the transcription service can fetch.
type Client struct {
	client     *s3.Client
	bucket     string
	keyPrefix  string
	publicBase string
	logger     *logrus.Logger
	now        func() time.Time
}

type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	logger     *logrus.Logger
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

func WithLogger(l *logrus.Logger) Option {
	return func(o *clientOptions) { o.logger = l }
}

func NewClient(ctx context.Context, cfg config.StorageConfig, opts ...Option) (*Client, error) {
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, errors.New("storage: access key id and secret required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("storage: endpoint required")
	}

	o := clientOptions{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.AccessKeySecret, "")),
		awsconfig.WithRegion(cfg.Region),
	}
	if o.httpClient != nil {
		loadOpts = append(loadOpts, awsconfig.WithHTTPClient(o.httpClient))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "storage: load SDK config")
	}

	publicBase, err := publicBaseURL(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		client: s3.NewFromConfig(awsCfg, func(so *s3.Options) {
			so.BaseEndpoint = aws.String(withScheme(cfg.Endpoint))
			so.UsePathStyle = cfg.PathStyle
		}),
		bucket:     cfg.Bucket,
		keyPrefix:  strings.Trim(cfg.KeyPrefix, "/"),
		publicBase: publicBase,
		logger:     o.logger,
		now:        time.Now,
	}, nil
}

// Upload stores the file at path under a fresh key and returns its public URL.
// name supplies the extension and content type.
func (c *Client) Upload(ctx context.Context, path, name string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrap(err, "storage: open file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", errors.Wrap(err, "storage: stat file")
	}

	key := objectKey(c.keyPrefix, name, c.now())
	contentType := contentTypeFor(name)

	start := time.Now()
	_, err = c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(contentType),
		ACL:           types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", errors.Wrapf(err, "storage: put object %s", key)
	}

	c.logger.WithFields(logrus.Fields{
		"key":      key,
		"size":     info.Size(),
		"duration": time.Since(start),
	}).Info("Uploaded file to object storage")

	return c.publicBase + "/" + key, nil
}

var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".aac":  "audio/aac",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".webm": "video/webm",
}

func contentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

func objectKey(prefix, name string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) > 10 {
		ext = ""
	}
	base := fmt.Sprintf("%d_%s%s", now.Unix(), uuid.NewString(), ext)
	if prefix == "" {
		return base
	}
	return prefix + "/" + base
}

// publicBaseURL returns the URL prefix objects are served from. Without an
// explicit base it is the bucket subdomain of the endpoint host, or the
// bucket path under the endpoint when path-style addressing is on.
func publicBaseURL(cfg config.StorageConfig) (string, error) {
	if cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(cfg.PublicBaseURL, "/"), nil
	}
	u, err := url.Parse(withScheme(cfg.Endpoint))
	if err != nil || u.Host == "" {
		return "", errors.Errorf("storage: invalid endpoint %q", cfg.Endpoint)
	}
	if cfg.PathStyle {
		return fmt.Sprintf("%s://%s/%s", u.Scheme, u.Host, cfg.Bucket), nil
	}
	return fmt.Sprintf("https://%s.%s", cfg.Bucket, u.Host), nil
}

func withScheme(endpoint string) string {
	if strings.Contains(endpoint, "://") {
		return endpoint
	}
	return "https://" + endpoint
}
