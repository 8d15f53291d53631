package imagestore

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/color2333/vibingu/internal/types"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/nfnt/resize"
)

// Minio is an S3-compatible ImageSaver, the alternate backend spec.md §9
// leaves as an open deployment choice alongside the default Local one.
type Minio struct {
	client *minio.Client
	bucket string
}

// NewMinio connects to an S3-compatible endpoint and ensures the target
// bucket exists, matching the teacher's minio.New/Options construction.
func NewMinio(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Minio, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("imagestore: connecting to minio: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("imagestore: checking bucket %q: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("imagestore: creating bucket %q: %w", bucket, err)
		}
	}

	return &Minio{client: client, bucket: bucket}, nil
}

// Save recompresses imageBytes the same way Local does, then uploads both
// the main image and its thumbnail as objects keyed by the same
// <YYYY>/<MM>/<kind>_<timestamp>_<rand8>.jpg layout.
func (m *Minio) Save(ctx context.Context, imageBytes []byte, kind types.ImageType, anchor time.Time) (string, string, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return "", "", fmt.Errorf("imagestore: decoding image: %w", err)
	}

	filename, err := generateFilename(kind, anchor)
	if err != nil {
		return "", "", err
	}
	datePath := fmt.Sprintf("%04d/%02d", anchor.Year(), anchor.Month())
	imageKey := datePath + "/" + filename
	thumbnailKey := datePath + "/thumb_" + filename

	main := resize.Thumbnail(maxDimension, maxDimension, img, resize.Lanczos3)
	if err := m.putJPEG(ctx, imageKey, main, jpegQuality); err != nil {
		return "", "", err
	}

	thumb := resize.Thumbnail(thumbnailDimension, thumbnailDimension, img, resize.Lanczos3)
	if err := m.putJPEG(ctx, thumbnailKey, thumb, thumbnailQuality); err != nil {
		return "", "", err
	}

	return imageKey, thumbnailKey, nil
}

// Delete removes the object at key from the bucket.
func (m *Minio) Delete(ctx context.Context, key string) error {
	return m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{})
}

func (m *Minio) putJPEG(ctx context.Context, key string, img image.Image, quality int) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("imagestore: encoding %s: %w", key, err)
	}
	_, err := m.client.PutObject(ctx, m.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return fmt.Errorf("imagestore: uploading %s: %w", key, err)
	}
	return nil
}
