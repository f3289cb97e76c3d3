package paste

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/AtharvRG/fractal/internal/logging"
	"github.com/AtharvRG/fractal/internal/metrics"
	"github.com/AtharvRG/fractal/pkg/models"
	"github.com/AtharvRG/fractal/pkg/protocol"
)

// KeyPrefix is prepended to every paste object key.
const KeyPrefix = "pastes/"

// maxObjectBytes bounds a decompressed paste.
const maxObjectBytes = 256 << 20

// S3Config holds connection settings for the paste bucket.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
}

// objectAPI is the subset of the S3 client the store uses.
type objectAPI interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic(fmt.Sprintf("paste: zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxObjectBytes))
	if err != nil {
		panic(fmt.Sprintf("paste: zstd decoder: %v", err))
	}
}

// ObjectStore keeps zstd-compressed JSON trees in an S3 bucket under
// random UUID keys.
type ObjectStore struct {
	client objectAPI
	bucket string
}

// NewObjectStore connects to the bucket described by cfg and creates it if missing.
func NewObjectStore(ctx context.Context, cfg S3Config) (*ObjectStore, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	store := newObjectStore(client, cfg.Bucket)
	if err := store.ensureBucket(ctx); err != nil {
		logging.Error("paste bucket check failed", zap.String("bucket", cfg.Bucket), zap.Error(err))
	}
	return store, nil
}

func newObjectStore(client objectAPI, bucket string) *ObjectStore {
	return &ObjectStore{client: client, bucket: bucket}
}

func (o *ObjectStore) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := o.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(o.bucket)})
	if err == nil {
		return nil
	}
	if _, err := o.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(o.bucket)}); err != nil {
		metrics.RecordS3Operation("create_bucket", time.Since(start), false)
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", o.bucket, err)
	}
	metrics.RecordS3Operation("create_bucket", time.Since(start), true)
	logging.Info("created paste bucket", zap.String("bucket", o.bucket))
	return nil
}

// Publish stores t and returns its id.
func (o *ObjectStore) Publish(ctx context.Context, t models.Tree) (string, error) {
	raw, err := marshalTree(t)
	if err != nil {
		return "", err
	}
	body := zstdEncoder.EncodeAll(raw, nil)
	id := uuid.NewString()

	start := time.Now()
	_, err = o.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(o.bucket),
		Key:             aws.String(KeyPrefix + id),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
	})
	if err != nil {
		metrics.RecordS3Operation("put_object", time.Since(start), false)
		return "", fmt.Errorf("put paste %s: %w: %w", id, protocol.ErrStoreUnavailable, err)
	}
	metrics.RecordS3Operation("put_object", time.Since(start), true)

	logging.Debug("paste stored", zap.String("id", id), zap.Int("raw", len(raw)), zap.Int("stored", len(body)))
	return id, nil
}

// Fetch loads the tree stored under id.
func (o *ObjectStore) Fetch(ctx context.Context, id string) (models.Tree, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("paste %q: %w", id, protocol.ErrNotFound)
	}

	start := time.Now()
	out, err := o.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(o.bucket),
		Key:    aws.String(KeyPrefix + id),
	})
	if err != nil {
		metrics.RecordS3Operation("get_object", time.Since(start), false)
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, fmt.Errorf("paste %s: %w", id, protocol.ErrNotFound)
		}
		return nil, fmt.Errorf("get paste %s: %w: %w", id, protocol.ErrStoreUnavailable, err)
	}
	defer out.Body.Close()
	metrics.RecordS3Operation("get_object", time.Since(start), true)

	body, err := io.ReadAll(io.LimitReader(out.Body, maxObjectBytes))
	if err != nil {
		return nil, fmt.Errorf("read paste %s: %w: %w", id, protocol.ErrStoreUnavailable, err)
	}
	raw, err := zstdDecoder.DecodeAll(body, nil)
	if err != nil {
		return nil, fmt.Errorf("paste %s: %w: %v", id, protocol.ErrDecompressFailed, err)
	}
	return unmarshalTree(raw)
}
