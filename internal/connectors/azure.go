package connectors

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/trackshift/answer-intake/internal/config"
	"github.com/trackshift/answer-intake/internal/intake"
)

type azureConnector struct {
	client    *azblob.Client
	container string
	prefix    string
}

func NewAzureBlobConnector(cfg config.AzureConfig) (Connector, error) {
	if cfg.Account == "" || cfg.Key == "" || cfg.Container == "" {
		return nil, fmt.Errorf("AZURE_STORAGE_ACCOUNT/AZURE_STORAGE_KEY/AZURE_BLOB_CONTAINER required for the azure source")
	}
	credential, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("build shared key credential: %w", err)
	}
	url := fmt.Sprintf("https://%s.blob.core.windows.net/", cfg.Account)
	client, err := azblob.NewClientWithSharedKeyCredential(url, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("create blob client: %w", err)
	}
	return &azureConnector{
		client:    client,
		container: cfg.Container,
		prefix:    cfg.Prefix,
	}, nil
}

func (a *azureConnector) Name() string {
	return "azure"
}

func (a *azureConnector) Close() error {
	return nil
}

// List treats a pattern naming an existing blob as that blob, anything else
// as a virtual directory.
func (a *azureConnector) List(ctx context.Context, patterns []string) ([]intake.CandidateFile, error) {
	if len(patterns) == 0 {
		patterns = []string{""}
	}
	var out []intake.CandidateFile
	for _, p := range patterns {
		name := joinRoot(a.prefix, p)
		prefix := name
		if prefix != "" && !strings.HasSuffix(prefix, "/") {
			prefix += "/"
		}
		pager := a.client.NewListBlobsFlatPager(a.container, &azblob.ListBlobsFlatOptions{
			Prefix: &name,
		})
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return nil, fmt.Errorf("list %s/%s: %w", a.container, name, err)
			}
			for _, item := range page.Segment.BlobItems {
				if item.Name == nil {
					continue
				}
				blob := *item.Name
				exact := blob == name && p != ""
				if !exact && (!strings.HasPrefix(blob, prefix) || !isPDFName(blob)) {
					continue
				}
				var (
					size        int64
					modified    time.Time
					contentType string
				)
				if props := item.Properties; props != nil {
					if props.ContentLength != nil {
						size = *props.ContentLength
					}
					if props.LastModified != nil {
						modified = *props.LastModified
					}
					if props.ContentType != nil {
						contentType = *props.ContentType
					}
				}
				out = append(out, a.candidate(ctx, blob, size, modified.UnixMilli(), contentType))
			}
		}
	}
	return out, nil
}

func (a *azureConnector) candidate(ctx context.Context, blob string, size, modified int64, contentType string) intake.CandidateFile {
	return intake.CandidateFile{
		Name:         path.Base(blob),
		Size:         size,
		LastModified: modified,
		MediaType:    contentType,
		Open: func() (io.ReadCloser, error) {
			resp, err := a.client.DownloadStream(ctx, a.container, blob, nil)
			if err != nil {
				return nil, fmt.Errorf("download %s/%s: %w", a.container, blob, err)
			}
			return resp.Body, nil
		},
	}
}
