// Package connectors lists candidate files from the places users keep them:
// local disk, object stores and file servers. Listed files still go through
// intake validation before they can be selected.
package connectors

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"
	"github.com/trackshift/answer-intake/internal/config"
	"github.com/trackshift/answer-intake/internal/intake"
)

// Connector lists candidate files from a source. Each pattern names a file
// or a directory/prefix relative to the source root; directories are
// expanded to the PDF names below them. No patterns lists the whole root.
// Content is fetched lazily through the candidate's Opener and is bound to
// the context passed to List.
type Connector interface {
	Name() string
	List(ctx context.Context, patterns []string) ([]intake.CandidateFile, error)
	Close() error
}

// Load instantiates the connector selected by cfg.Kind.
func Load(ctx context.Context, cfg config.SourceConfig, logger zerolog.Logger) (Connector, error) {
	kind := strings.TrimSpace(strings.ToLower(cfg.Kind))
	var (
		conn Connector
		err  error
	)
	switch kind {
	case "", "local":
		conn = NewLocalConnector()
	case "s3":
		conn, err = NewS3Connector(ctx, cfg.S3)
	case "azure":
		conn, err = NewAzureBlobConnector(cfg.Azure)
	case "sftp":
		conn, err = NewSFTPConnector(cfg.SFTP)
	case "ftps":
		conn, err = NewFTPSConnector(cfg.FTPS)
	default:
		err = fmt.Errorf("unknown source %q", kind)
	}
	if err != nil {
		logger.Error().Err(err).Str("source", kind).Msg("failed to init source")
		return nil, err
	}
	logger.Debug().Str("source", conn.Name()).Msg("initialized source")
	return conn, nil
}

// isPDFName reports whether a directory entry should be picked up by expansion.
func isPDFName(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".pdf")
}

// joinRoot places a user pattern below the configured root.
func joinRoot(root, pattern string) string {
	pattern = strings.TrimPrefix(pattern, "/")
	if root == "" {
		return pattern
	}
	return path.Join(root, pattern)
}
