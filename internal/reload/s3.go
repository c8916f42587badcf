package reload

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vango-dev/hotreload/internal/errors"
)

// MarkerName is the object name written under the configured prefix.
const MarkerName = "reload.json"

// PutObjectAPI is the subset of the S3 client the announcer needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Marker is the body of the reload marker object.
type Marker struct {
	Host string    `json:"host"`
	PID  int       `json:"pid"`
	At   time.Time `json:"at"`
}

// S3Announcer writes a reload marker to S3 so that servers on other hosts
// watching the bucket can reload too.
type S3Announcer struct {
	client  PutObjectAPI
	bucket  string
	key     string
	host    string
	pid     int
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewS3Announcer creates an announcer writing <prefix>reload.json.
func NewS3Announcer(client PutObjectAPI, bucket, prefix string, logger *slog.Logger) *S3Announcer {
	host, _ := os.Hostname()
	return &S3Announcer{
		client:  client,
		bucket:  bucket,
		key:     prefix + MarkerName,
		host:    host,
		pid:     os.Getpid(),
		timeout: 10 * time.Second,
		now:     time.Now,
		logger:  loggerOrDefault(logger),
	}
}

// NewS3AnnouncerFromEnv builds the S3 client from the default AWS
// credential chain. An empty region defers to the environment.
func NewS3AnnouncerFromEnv(ctx context.Context, bucket, prefix, region string, logger *slog.Logger) (*S3Announcer, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.New("E120").WithDetail("AWS configuration could not be loaded.").Wrap(err)
	}
	return NewS3Announcer(s3.NewFromConfig(cfg), bucket, prefix, logger), nil
}

// Key returns the object key of the marker.
func (a *S3Announcer) Key() string {
	return a.key
}

// Reload writes the marker object.
func (a *S3Announcer) Reload() {
	body, err := json.Marshal(Marker{Host: a.host, PID: a.pid, At: a.now().UTC()})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		a.logger.Error("reload marker upload failed",
			"bucket", a.bucket,
			"key", a.key,
			"error", errors.New("E200").Wrap(err))
	}
}
