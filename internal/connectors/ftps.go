package connectors

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/secsy/goftp"
	"github.com/trackshift/answer-intake/internal/config"
	"github.com/trackshift/answer-intake/internal/intake"
)

type ftpsConnector struct {
	config  goftp.Config
	addr    string
	baseDir string
	client  *goftp.Client
}

func NewFTPSConnector(cfg config.FTPSConfig) (Connector, error) {
	if cfg.Host == "" || cfg.User == "" || cfg.Password == "" {
		return nil, fmt.Errorf("FTPS_HOST/FTPS_USER/FTPS_PASSWORD required for the ftps source")
	}
	port := cfg.Port
	if port == "" {
		port = "21"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, fmt.Errorf("invalid ftps port: %w", err)
	}
	return &ftpsConnector{
		config: goftp.Config{
			User:               cfg.User,
			Password:           cfg.Password,
			TLSConfig:          &tls.Config{InsecureSkipVerify: true}, // rely on network ACLs for now
			TLSMode:            goftp.TLSExplicit,
			Timeout:            30 * time.Second,
			ConnectionsPerHost: 2,
		},
		addr:    fmt.Sprintf("%s:%s", cfg.Host, port),
		baseDir: cfg.BaseDir,
	}, nil
}

func (f *ftpsConnector) Name() string {
	return "ftps"
}

func (f *ftpsConnector) Close() error {
	if f.client == nil {
		return nil
	}
	err := f.client.Close()
	f.client = nil
	return err
}

func (f *ftpsConnector) List(ctx context.Context, patterns []string) ([]intake.CandidateFile, error) {
	if f.client == nil {
		client, err := goftp.DialConfig(f.config, f.addr)
		if err != nil {
			return nil, fmt.Errorf("ftps dial: %w", err)
		}
		f.client = client
	}
	if len(patterns) == 0 {
		patterns = []string{""}
	}
	var out []intake.CandidateFile
	for _, p := range patterns {
		target := f.remotePath(p)
		info, err := f.client.Stat(target)
		if err != nil {
			return nil, fmt.Errorf("ftps stat %s: %w", target, err)
		}
		if !info.IsDir() {
			out = append(out, f.candidate(target, info))
			continue
		}
		files, err := f.walk(ctx, target)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

func (f *ftpsConnector) walk(ctx context.Context, dir string) ([]intake.CandidateFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := f.client.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ftps list %s: %w", dir, err)
	}
	var out []intake.CandidateFile
	for _, entry := range entries {
		full := path.Join(dir, entry.Name())
		switch {
		case entry.IsDir():
			nested, err := f.walk(ctx, full)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		case entry.Mode().IsRegular() && isPDFName(entry.Name()):
			out = append(out, f.candidate(full, entry))
		}
	}
	return out, nil
}

// candidate streams content through a pipe since goftp retrieves into a writer.
func (f *ftpsConnector) candidate(remote string, info os.FileInfo) intake.CandidateFile {
	client := f.client
	return intake.CandidateFile{
		Name:         path.Base(remote),
		Size:         info.Size(),
		LastModified: info.ModTime().UnixMilli(),
		Open: func() (io.ReadCloser, error) {
			pr, pw := io.Pipe()
			go func() {
				pw.CloseWithError(client.Retrieve(remote, pw))
			}()
			return pr, nil
		},
	}
}

func (f *ftpsConnector) remotePath(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "/")
	switch {
	case f.baseDir == "" && pattern == "":
		return "."
	case f.baseDir == "":
		return pattern
	}
	return path.Join(f.baseDir, pattern)
}
