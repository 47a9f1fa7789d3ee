package storage

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/google/uuid"
)

const (
	// UploadURLExpiry is how long a presigned upload URL stays valid.
	UploadURLExpiry = 15 * time.Minute
	// PlaybackURLExpiry is how long a presigned playback URL stays valid.
	// Enrolled students get a fresh one per lesson view.
	PlaybackURLExpiry = 2 * time.Hour
)

// MediaStore holds lesson media (video/audio files) in an S3-compatible
// bucket. The API never proxies media bytes; clients upload and stream
// through presigned URLs.
type MediaStore struct {
	s3Client *s3.S3
	bucket   string
}

// MediaConfig holds configuration for the media store
type MediaConfig struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Endpoint  string // S3-compatible endpoint, empty for AWS
}

// NewMediaStore creates a new media store client
func NewMediaStore(config MediaConfig) (*MediaStore, error) {
	awsConfig := &aws.Config{
		Credentials: credentials.NewStaticCredentials(
			config.AccessKey,
			config.SecretKey,
			"",
		),
		Region: aws.String(config.Region),
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(false)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create media store session: %w", err)
	}

	return &MediaStore{
		s3Client: s3.New(sess),
		bucket:   config.Bucket,
	}, nil
}

// NewObjectKey builds a unique object key for a lesson's media file,
// preserving the original extension.
func NewObjectKey(lessonID uint, filename string) string {
	ext := path.Ext(filename)
	return fmt.Sprintf("lessons/%d/%s%s", lessonID, uuid.New().String(), ext)
}

// PresignUpload returns a presigned PUT URL the admin console uploads the
// media file to directly.
func (m *MediaStore) PresignUpload(key, contentType string) (string, error) {
	req, _ := m.s3Client.PutObjectRequest(&s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})

	url, err := req.Presign(UploadURLExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign upload: %w", err)
	}
	return url, nil
}

// PresignPlayback returns a presigned GET URL for streaming a lesson's media.
func (m *MediaStore) PresignPlayback(key string) (string, error) {
	req, _ := m.s3Client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})

	url, err := req.Presign(PlaybackURLExpiry)
	if err != nil {
		return "", fmt.Errorf("failed to presign playback: %w", err)
	}
	return url, nil
}

// Delete removes a media object, e.g. when a lesson's kind changes away
// from video/audio or the lesson is deleted.
func (m *MediaStore) Delete(ctx context.Context, key string) error {
	_, err := m.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete media object: %w", err)
	}
	return nil
}
