package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// RestyProvider talks to an S3-compatible object-store gateway over HTTP.
// Namespaces map to buckets named gearbase-<tenant_id>.
type RestyProvider struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewRestyProvider(baseURL, token string, logger *zap.Logger) *RestyProvider {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &RestyProvider{httpClient: client, logger: logger}
}

var _ Provider = (*RestyProvider)(nil)

func namespaceName(tenantID string) string {
	return "gearbase-" + tenantID
}

type statResponse struct {
	BytesUsed int64 `json:"bytes_used"`
}

func (p *RestyProvider) EnsureNamespace(ctx context.Context, tenantID string) (string, error) {
	ns := namespaceName(tenantID)
	resp, err := p.httpClient.R().
		SetContext(ctx).
		Put(fmt.Sprintf("/v1/namespaces/%s", ns))
	if err != nil {
		return "", fmt.Errorf("failed to create namespace %s: %w", ns, err)
	}
	// 409 means the namespace already exists, which is fine: allocation is
	// idempotent so provisioning can be re-run
	if resp.IsError() && resp.StatusCode() != 409 {
		return "", fmt.Errorf("storage provider rejected namespace %s: %s", ns, resp.Status())
	}
	p.logger.Info("storage namespace ready", zap.String("namespace", ns))
	return ns, nil
}

func (p *RestyProvider) DeleteNamespace(ctx context.Context, tenantID string) error {
	ns := namespaceName(tenantID)
	resp, err := p.httpClient.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("/v1/namespaces/%s", ns))
	if err != nil {
		return fmt.Errorf("failed to delete namespace %s: %w", ns, err)
	}
	if resp.IsError() && resp.StatusCode() != 404 {
		return fmt.Errorf("storage provider refused to delete namespace %s: %s", ns, resp.Status())
	}
	return nil
}

func (p *RestyProvider) WriteBackup(ctx context.Context, tenantID string, name string, data []byte) (string, error) {
	ns := namespaceName(tenantID)
	path := fmt.Sprintf("/v1/namespaces/%s/backups/%s", ns, name)
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(data).
		Put(path)
	if err != nil {
		return "", fmt.Errorf("failed to write backup %s: %w", name, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("storage provider rejected backup %s: %s", name, resp.Status())
	}
	location := fmt.Sprintf("%s/backups/%s", ns, name)
	p.logger.Info("backup artifact stored",
		zap.String("tenant_id", tenantID),
		zap.String("location", location),
		zap.Int("bytes", len(data)),
	)
	return location, nil
}

func (p *RestyProvider) NamespaceBytes(ctx context.Context, tenantID string) (int64, error) {
	ns := namespaceName(tenantID)
	var stat statResponse
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetResult(&stat).
		Get(fmt.Sprintf("/v1/namespaces/%s/stat", ns))
	if err != nil {
		return 0, fmt.Errorf("failed to stat namespace %s: %w", ns, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("storage provider stat failed for %s: %s", ns, resp.Status())
	}
	return stat.BytesUsed, nil
}
