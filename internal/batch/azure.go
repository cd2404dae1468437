package batch

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureSource reads blobs addressed as az://, abfss:// or blob HTTPS URLs.
type AzureSource struct {
	client *azblob.Client
}

var _ Source = (*AzureSource)(nil)

// NewAzureSource authenticates with a storage account shared key.
func NewAzureSource(accountName, accountKey string) (*AzureSource, error) {
	if accountName == "" || accountKey == "" {
		return nil, fmt.Errorf("azure account name and key are required")
	}
	cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("create Azure shared key credential: %w", err)
	}
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net", accountName)
	client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("create Azure blob client: %w", err)
	}
	return &AzureSource{client: client}, nil
}

// Open implements Source.
func (s *AzureSource) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	container, key, err := parseAzurePath(uri)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.DownloadStream(ctx, container, key, nil)
	if err != nil {
		return nil, fmt.Errorf("download azure blob %s/%s: %w", container, key, err)
	}
	return resp.Body, nil
}

// parseAzurePath extracts container and blob key from Azure storage paths.
// Supports:
//   - abfss://container@account.dfs.core.windows.net/path
//   - az://container/path
//   - https://account.blob.core.windows.net/container/path
func parseAzurePath(path string) (container, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse Azure path %q: %w", path, err)
	}

	switch u.Scheme {
	case "abfss":
		// url.Parse reads "container" as userinfo
		if u.User == nil {
			return "", "", fmt.Errorf("abfss path %q missing container@account component", path)
		}
		container = u.User.Username()
		key = strings.TrimPrefix(u.Path, "/")
	case "az":
		container = u.Host
		key = strings.TrimPrefix(u.Path, "/")
	case "https":
		if !strings.Contains(u.Host, ".blob.core.windows.net") {
			return "", "", fmt.Errorf("unrecognized Azure HTTPS host %q in path %q", u.Host, path)
		}
		container, key, _ = strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	default:
		return "", "", fmt.Errorf("unrecognized Azure path scheme %q in %q", u.Scheme, path)
	}

	if container == "" {
		return "", "", fmt.Errorf("empty container in Azure path %q", path)
	}
	if key == "" {
		return container, "", fmt.Errorf("empty key in Azure path %q", path)
	}
	return container, key, nil
}
