package backend

import (
	"context"
	"io"
	"time"

	"sirachat/pkg/database"
)

// presigned GET 的有效期，minio 上限為 7 天
const presignExpiry = 7 * 24 * time.Hour

// MinioBlobStore BlobStore over minio
type MinioBlobStore struct {
	client *database.MinIOClient
}

// NewMinioBlobStore create the blob store
func NewMinioBlobStore(client *database.MinIOClient) *MinioBlobStore {
	return &MinioBlobStore{client: client}
}

// Upload store the object and return a presigned GET url
func (b *MinioBlobStore) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string, onProgress Progress) (string, error) {
	reader := io.Reader(r)
	if onProgress != nil && size > 0 {
		reader = &progressReader{r: r, total: size, onProgress: onProgress}
	}

	if err := b.client.PutObject(ctx, path, reader, size, contentType); err != nil {
		return "", err
	}
	if onProgress != nil {
		onProgress(1)
	}

	return b.client.PresignGetURL(ctx, path, presignExpiry)
}

// Delete remove the object, absent object is not an error
func (b *MinioBlobStore) Delete(ctx context.Context, path string) error {
	return b.client.RemoveObject(ctx, path)
}

// Exists check the object is present
func (b *MinioBlobStore) Exists(ctx context.Context, path string) (bool, error) {
	return b.client.StatObject(ctx, path)
}

// progressReader report a non-decreasing fraction while the store drains it
type progressReader struct {
	r          io.Reader
	total      int64
	read       int64
	last       float64
	onProgress Progress
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		frac := float64(p.read) / float64(p.total)
		if frac > 1 {
			frac = 1
		}
		if frac > p.last {
			p.last = frac
			p.onProgress(frac)
		}
	}
	return n, err
}
