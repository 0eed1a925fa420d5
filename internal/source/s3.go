package source

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Store reads declarative sources from an S3-compatible bucket
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Store(endpoint, accessKey, secretKey, bucket, prefix string, useSSL bool) (*S3Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (s *S3Store) key(name string) string {
	return path.Join(s.prefix, path.Base(name))
}

// Open returns the object named after the source. Missing objects yield ErrObjectNotFound.
func (s *S3Store) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	key := s.key(name)

	object, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from S3: %w", key, err)
	}

	// GetObject is lazy; Stat surfaces a missing key before anyone reads
	if _, err := object.Stat(); err != nil {
		object.Close()
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat %s in S3: %w", key, err)
	}

	return object, nil
}

func (s *S3Store) String() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix)
}
