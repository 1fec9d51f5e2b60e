package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"regtest/internal/config"
	"regtest/internal/domain"
	"regtest/internal/storage"
)

// ObjectClient is the subset of the minio client the exporter uses.
type ObjectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

var _ ObjectClient = (*minio.Client)(nil)

// NewClient connects to an S3-compatible endpoint. The scheme of the
// endpoint selects TLS.
func NewClient(cfg config.ExportConfig) (*minio.Client, error) {
	endpoint := cfg.Endpoint
	secure := true
	switch {
	case strings.HasPrefix(endpoint, "http://"):
		secure = false
		endpoint = strings.TrimPrefix(endpoint, "http://")
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = strings.TrimPrefix(endpoint, "https://")
	default:
		return nil, fmt.Errorf("unsupported endpoint %q: want http:// or https://", cfg.Endpoint)
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return client, nil
}

// Exporter uploads stored results to a bucket under <prefix>/<run id>/.
type Exporter struct {
	client ObjectClient
	bucket string
	prefix string
	log    *zap.Logger
}

func NewExporter(client ObjectClient, bucket, prefix string, log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/"), log: log.With(zap.String("component", "export"))}
}

// Summary counts what an export did.
type Summary struct {
	RunID    string
	Uploaded int
	Skipped  int
	Failed   int
}

// Export uploads every stored result accepted by keep (nil keeps all) and
// the last run info. Unreadable results are skipped and reported in the
// returned error together with failed uploads.
func (e *Exporter) Export(ctx context.Context, store storage.Store, keep func(*domain.TestResult) bool) (Summary, error) {
	ok, err := e.client.BucketExists(ctx, e.bucket)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to check bucket %s: %w", e.bucket, err)
	}
	if !ok {
		return Summary{}, fmt.Errorf("bucket %s does not exist", e.bucket)
	}

	var sum Summary
	info, err := store.ReadLastRun()
	switch {
	case err == nil:
		sum.RunID = info.RunID
	case errors.Is(err, storage.ErrNotFound):
		sum.RunID = "unknown"
	default:
		return Summary{}, fmt.Errorf("failed to read last run info: %w", err)
	}
	base := path.Join(e.prefix, sum.RunID)

	var errs []error
	for res, err := range store.Iterate(nil) {
		if err != nil {
			sum.Skipped++
			errs = append(errs, err)
			continue
		}
		if keep != nil && !keep(res) {
			sum.Skipped++
			continue
		}
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			sum.Failed++
			errs = append(errs, fmt.Errorf("encode %s: %w", res.ID, err))
			continue
		}
		if err := e.put(ctx, path.Join(base, res.ID+storage.ResultExt), data, "application/json"); err != nil {
			sum.Failed++
			errs = append(errs, err)
			continue
		}
		sum.Uploaded++
	}

	if info != nil {
		data, err := yaml.Marshal(info)
		if err == nil {
			err = e.put(ctx, path.Join(base, "lastRun.yaml"), data, "application/yaml")
		}
		if err != nil {
			errs = append(errs, err)
		}
	}

	e.log.Info("Export finished",
		zap.String("bucket", e.bucket),
		zap.String("prefix", base),
		zap.Int("uploaded", sum.Uploaded),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed))
	return sum, errors.Join(errs...)
}

func (e *Exporter) put(ctx context.Context, name string, data []byte, contentType string) error {
	_, err := e.client.PutObject(ctx, e.bucket, name, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}
