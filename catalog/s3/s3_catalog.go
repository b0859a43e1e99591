// Package s3 implements catalog.Catalog on top of Amazon S3.
//
// A backing table named "schema.table" maps to the object prefix
// "<rootPrefix>/schema/table/"; the table exists while at least one object
// lives under the prefix, and dropping it deletes every object there.
package s3

import (
	"context"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/ctecache/catalog"
)

// deleteBatchSize is the DeleteObjects API limit.
const deleteBatchSize = 1000

// Client is the subset of the S3 API the catalog uses.
type Client interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Catalog implements catalog.Catalog for S3.
type Catalog struct {
	client      Client
	bucket      string
	prefix      string
	concurrency int
}

// New creates a new S3 catalog.
// rootPrefix is prepended to all table prefixes (e.g. "cte-cache/").
func New(client Client, bucket, rootPrefix string) *Catalog {
	return &Catalog{
		client:      client,
		bucket:      bucket,
		prefix:      rootPrefix,
		concurrency: 4,
	}
}

func (c *Catalog) tablePrefix(name string) string {
	return path.Join(c.prefix, strings.ReplaceAll(name, ".", "/")) + "/"
}

// TableHandle resolves a table by probing its object prefix.
func (c *Catalog) TableHandle(ctx context.Context, _ catalog.Session, name string) (catalog.TableHandle, error) {
	prefix := c.tablePrefix(name)

	out, err := c.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(c.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Contents) == 0 {
		return nil, catalog.ErrNotFound
	}

	return &tableHandle{name: name, prefix: prefix}, nil
}

// DropTable deletes every object under the table's prefix. Batches are
// deleted concurrently; a table that vanished in the meantime is not an
// error.
func (c *Catalog) DropTable(ctx context.Context, _ catalog.Session, th catalog.TableHandle) error {
	h, ok := th.(*tableHandle)
	if !ok {
		return catalog.ErrNotFound
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(h.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			keys = append(keys, *obj.Key)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(keys); start += deleteBatchSize {
		batch := keys[start:min(start+deleteBatchSize, len(keys))]
		g.Go(func() error {
			objects := make([]types.ObjectIdentifier, len(batch))
			for i, k := range batch {
				objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
			}
			_, err := c.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
				Bucket: aws.String(c.bucket),
				Delete: &types.Delete{
					Objects: objects,
					Quiet:   aws.Bool(true),
				},
			})
			return err
		})
	}
	return g.Wait()
}

type tableHandle struct {
	name   string
	prefix string
}

func (h *tableHandle) Name() string { return h.name }
