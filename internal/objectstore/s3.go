package objectstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fahadfarid28/home-sub000/internal/errors"
)

// S3Config describes an S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
	AccessKey string
	SecretKey string
}

// S3 is the durable remote tier.
type S3 struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3 creates a client for cfg. Static keys are used when set, otherwise
// credentials come from the standard AWS environment variables.
func NewS3(cfg S3Config) (*S3, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "s3 endpoint and bucket are required")
	}

	creds := credentials.NewEnvAWS()
	if cfg.AccessKey != "" {
		creds = credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, "")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  creds,
		Region: cfg.Region,
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.WrapConfig(err, errors.ErrCodeConfigInvalid, "creating s3 client")
	}

	return &S3{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Name returns the tier name
func (s *S3) Name() string { return "s3" }

func (s *S3) objectName(key string) string {
	if s.prefix == "" {
		return key
	}

	return path.Join(s.prefix, key)
}

func (s *S3) mapError(err error, key, msg string) error {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey" {
		return ErrNotFound(key)
	}

	return errors.NewIOError(errors.ErrCodeRemoteUnavailable, msg, err).WithPath(key)
}

func (s *S3) read(ctx context.Context, key string, opts minio.GetObjectOptions) ([]byte, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.objectName(key), opts)
	if err != nil {
		return nil, s.mapError(err, key, "get object")
	}
	defer obj.Close()

	// GetObject is lazy; a missing key only surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError(err, key, "read object")
	}

	return data, nil
}

// Get downloads the object at key.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	return s.read(ctx, key, minio.GetObjectOptions{})
}

// GetRange downloads length bytes starting at offset.
func (s *S3) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(offset, offset+length-1); err != nil {
		return nil, errors.WrapValidation(err, errors.ErrCodeInvalidInput, "invalid range")
	}

	return s.read(ctx, key, opts)
}

// Put uploads data to key.
func (s *S3) Put(ctx context.Context, key string, data []byte) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	reader := bytes.NewReader(data)
	_, err := s.client.PutObject(ctx, s.bucket, s.objectName(key), reader, reader.Size(),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "put object", err).WithPath(key)
	}

	return nil
}

// Exists stats the object at key.
func (s *S3) Exists(ctx context.Context, key string) (bool, error) {
	if err := ValidateKey(key); err != nil {
		return false, err
	}

	_, err := s.client.StatObject(ctx, s.bucket, s.objectName(key), minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	mapped := s.mapError(err, key, "stat object")
	if IsNotFound(mapped) {
		return false, nil
	}

	return false, mapped
}

// Ping checks that the bucket is reachable.
func (s *S3) Ping(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeRemoteUnavailable, "find bucket", err)
	}
	if !ok {
		return errors.NewConfigError(errors.ErrCodeConfigInvalid, "bucket does not exist").WithPath(s.bucket)
	}

	return nil
}
