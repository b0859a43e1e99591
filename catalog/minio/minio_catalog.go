// Package minio implements catalog.Catalog for MinIO and S3-compatible
// storage.
//
// A backing table named "schema.table" maps to the object prefix
// "<rootPrefix>/schema/table/"; dropping the table removes every object
// under the prefix.
package minio

import (
	"context"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/hupe1980/ctecache/catalog"
)

// Catalog implements catalog.Catalog for MinIO.
type Catalog struct {
	client *minio.Client
	bucket string
	prefix string
}

// New creates a new MinIO catalog.
// rootPrefix is prepended to all table prefixes (e.g. "cte-cache/").
func New(client *minio.Client, bucket, rootPrefix string) *Catalog {
	return &Catalog{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (c *Catalog) tablePrefix(name string) string {
	return path.Join(c.prefix, strings.ReplaceAll(name, ".", "/")) + "/"
}

// TableHandle resolves a table by probing its object prefix.
func (c *Catalog) TableHandle(ctx context.Context, _ catalog.Session, name string) (catalog.TableHandle, error) {
	prefix := c.tablePrefix(name)

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range c.client.ListObjects(listCtx, c.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
		MaxKeys:   1,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		return &tableHandle{name: name, prefix: prefix}, nil
	}

	return nil, catalog.ErrNotFound
}

// DropTable removes every object under the table's prefix. Objects that
// vanished in the meantime are skipped.
func (c *Catalog) DropTable(ctx context.Context, _ catalog.Session, th catalog.TableHandle) error {
	h, ok := th.(*tableHandle)
	if !ok {
		return catalog.ErrNotFound
	}

	for obj := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{
		Prefix:    h.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return obj.Err
		}
		err := c.client.RemoveObject(ctx, c.bucket, obj.Key, minio.RemoveObjectOptions{})
		if err != nil {
			errResp := minio.ToErrorResponse(err)
			if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
				continue // Already gone
			}
			return err
		}
	}
	return nil
}

type tableHandle struct {
	name   string
	prefix string
}

func (h *tableHandle) Name() string { return h.name }
