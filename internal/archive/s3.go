package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"go.uber.org/zap"

	"github.com/flowmesh/jobbroker/internal/config"
	"github.com/flowmesh/jobbroker/internal/jobmodel"
)

// s3Exporter mirrors archived partitions to an S3-compatible bucket,
// adapted from the teacher's internal/long-term-archives S3 exporter: same
// session/uploader setup, including the optional custom endpoint and
// path-style addressing needed for MinIO/LocalStack, narrowed from a
// generic partitioned-export format down to one JSON object per batch.
type s3Exporter struct {
	cfg      config.ArchiveS3
	uploader *s3manager.Uploader
	log      *zap.Logger
}

func newS3Exporter(cfg config.ArchiveS3, log *zap.Logger) (*s3Exporter, error) {
	awsCfg := &aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return &s3Exporter{cfg: cfg, uploader: s3manager.NewUploader(sess), log: log}, nil
}

func (e *s3Exporter) Name() string { return "s3" }

func (e *s3Exporter) Export(ctx context.Context, jobs []jobmodel.Job) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, j := range jobs {
		if err := enc.Encode(j); err != nil {
			return fmt.Errorf("encode job %s: %w", j.ID, err)
		}
	}

	key := fmt.Sprintf("%s/%s.jsonl", e.cfg.Prefix, time.Now().UTC().Format("2006-01-02T15-04-05.000000000"))
	_, err := e.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(e.cfg.Bucket),
		Key:    aws.String(key),
		Body:   &buf,
	})
	if err != nil {
		return fmt.Errorf("upload archive batch to s3: %w", err)
	}
	e.log.Info("archived batch to s3", zap.String("bucket", e.cfg.Bucket), zap.String("key", key), zap.Int("count", len(jobs)))
	return nil
}
