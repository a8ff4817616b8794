package parameterset

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
)

// ObjectStoreDownloader copies every object below Prefix of Bucket.
type ObjectStoreDownloader struct {
	Client *minio.Client
	Bucket string
	Prefix string
}

func (d ObjectStoreDownloader) Download(ctx context.Context, dir string) error {
	if d.Client == nil {
		return fmt.Errorf("object store client is required")
	}
	prefix := strings.Trim(d.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	count := 0
	for obj := range d.Client.ListObjects(ctx, d.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list %s/%s: %w", d.Bucket, prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		rel := path.Clean(strings.TrimPrefix(obj.Key, prefix))
		target, err := entryPath(dir, rel)
		if err != nil {
			return err
		}
		if err := d.Client.FGetObject(ctx, d.Bucket, obj.Key, target, minio.GetObjectOptions{}); err != nil {
			return fmt.Errorf("get %s/%s: %w", d.Bucket, obj.Key, err)
		}
		count++
	}
	if count == 0 {
		return fmt.Errorf("no objects below %s/%s", d.Bucket, prefix)
	}
	return nil
}

// Upload copies every file below dir to Bucket/Prefix, the inverse of Download.
func (d ObjectStoreDownloader) Upload(ctx context.Context, dir string) error {
	prefix := strings.Trim(d.Prefix, "/")
	return filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		if _, err := d.Client.FPutObject(ctx, d.Bucket, key, p, minio.PutObjectOptions{}); err != nil {
			return fmt.Errorf("put %s/%s: %w", d.Bucket, key, err)
		}
		return nil
	})
}
