package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/kotilabs/housing-backend/pkg/config"
	"github.com/kotilabs/housing-backend/pkg/logger"
)

const pingTimeout = 5 * time.Second

// Uploader stores rendered documents.
type Uploader interface {
	Upload(ctx context.Context, objectName, contentType string, data []byte) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type bucketHandle interface {
	Attrs(ctx context.Context) (*storage.BucketAttrs, error)
	Object(name string) objectHandle
}

type objectHandle interface {
	NewWriter(ctx context.Context, contentType string) io.WriteCloser
}

type realBucketHandle struct{ bh *storage.BucketHandle }

func (r *realBucketHandle) Attrs(ctx context.Context) (*storage.BucketAttrs, error) {
	return r.bh.Attrs(ctx)
}

func (r *realBucketHandle) Object(name string) objectHandle {
	return &realObjectHandle{r.bh.Object(name)}
}

type realObjectHandle struct{ oh *storage.ObjectHandle }

func (r *realObjectHandle) NewWriter(ctx context.Context, contentType string) io.WriteCloser {
	w := r.oh.NewWriter(ctx)
	w.ContentType = contentType
	return w
}

type Client struct {
	client *storage.Client
	bucket bucketHandle
	name   string
	prefix string
}

func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BucketName) == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	opts := []option.ClientOption{}
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	if gcp.ProjectID != "" {
		opts = append(opts, option.WithQuotaProject(gcp.ProjectID))
	}

	sc, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating gcs client: %w", err)
	}

	client := &Client{
		client: sc,
		bucket: &realBucketHandle{sc.Bucket(cfg.BucketName)},
		name:   cfg.BucketName,
		prefix: cfg.DocumentPrefix,
	}

	if err := client.Ping(ctx); err != nil {
		_ = sc.Close()
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.BucketName), "gcs client initialized")
	}
	return client, nil
}

func (c *Client) BucketName() string {
	if c == nil {
		return ""
	}
	return c.name
}

// InvoiceObjectName returns the object path for an invoice document:
// {prefix}/{tenant}/invoices/{invoice}.pdf.
func (c *Client) InvoiceObjectName(tenantID, invoiceID string) string {
	prefix := "tenants"
	if c != nil && strings.TrimSpace(c.prefix) != "" {
		prefix = strings.Trim(c.prefix, "/")
	}
	return InvoiceObjectName(prefix, tenantID, invoiceID)
}

// InvoiceObjectName joins the invoice document path under prefix.
func InvoiceObjectName(prefix, tenantID, invoiceID string) string {
	return path.Join(prefix, tenantID, "invoices", invoiceID+".pdf")
}

// Upload writes data to the object, replacing any previous version.
func (c *Client) Upload(ctx context.Context, objectName, contentType string, data []byte) error {
	if c == nil || c.bucket == nil {
		return errors.New("gcs client not initialized")
	}
	if strings.TrimSpace(objectName) == "" {
		return errors.New("object name is required")
	}
	w := c.bucket.Object(objectName).NewWriter(ctx, contentType)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %q: %w", objectName, err)
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.bucket == nil {
		return errors.New("gcs client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if _, err := c.bucket.Attrs(ctx); err != nil {
		return fmt.Errorf("read bucket attrs: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
