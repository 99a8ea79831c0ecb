package connectors

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/trackshift/answer-intake/internal/config"
	"github.com/trackshift/answer-intake/internal/intake"
	"golang.org/x/crypto/ssh"
)

type sftpConnector struct {
	addr     string
	user     string
	password string
	keyPath  string
	baseDir  string

	mu     sync.Mutex
	ssh    *ssh.Client
	client *sftp.Client
}

func NewSFTPConnector(cfg config.SFTPConfig) (Connector, error) {
	if cfg.Host == "" || cfg.User == "" {
		return nil, fmt.Errorf("SFTP_HOST and SFTP_USER required for the sftp source")
	}
	port := cfg.Port
	if port == "" {
		port = "22"
	}
	if _, err := strconv.Atoi(port); err != nil {
		return nil, fmt.Errorf("invalid sftp port: %w", err)
	}
	return &sftpConnector{
		addr:     net.JoinHostPort(cfg.Host, port),
		user:     cfg.User,
		password: cfg.Password,
		keyPath:  cfg.KeyPath,
		baseDir:  strings.TrimSuffix(strings.TrimSpace(cfg.BaseDir), "/"),
	}, nil
}

func (s *sftpConnector) Name() string {
	return "sftp"
}

// Close releases the session opened by the first List.
func (s *sftpConnector) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	if cerr := s.ssh.Close(); err == nil {
		err = cerr
	}
	s.client, s.ssh = nil, nil
	return err
}

func (s *sftpConnector) List(ctx context.Context, patterns []string) ([]intake.CandidateFile, error) {
	client, err := s.session()
	if err != nil {
		return nil, err
	}
	if len(patterns) == 0 {
		patterns = []string{""}
	}
	var out []intake.CandidateFile
	for _, p := range patterns {
		root := s.remotePath(p)
		info, err := client.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("sftp stat %s: %w", root, err)
		}
		if !info.IsDir() {
			out = append(out, s.candidate(client, root, info))
			continue
		}
		walker := client.Walk(root)
		for walker.Step() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if err := walker.Err(); err != nil {
				return nil, fmt.Errorf("sftp walk %s: %w", walker.Path(), err)
			}
			st := walker.Stat()
			if !st.Mode().IsRegular() || !isPDFName(st.Name()) {
				continue
			}
			out = append(out, s.candidate(client, walker.Path(), st))
		}
	}
	return out, nil
}

func (s *sftpConnector) candidate(client *sftp.Client, remote string, info os.FileInfo) intake.CandidateFile {
	return intake.CandidateFile{
		Name:         path.Base(remote),
		Size:         info.Size(),
		LastModified: info.ModTime().UnixMilli(),
		Open: func() (io.ReadCloser, error) {
			return client.Open(remote)
		},
	}
}

func (s *sftpConnector) session() (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	auths := []ssh.AuthMethod{}
	if s.keyPath != "" {
		key, err := os.ReadFile(s.keyPath)
		if err != nil {
			return nil, fmt.Errorf("read key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}
	if s.password != "" {
		auths = append(auths, ssh.Password(s.password))
	}
	if len(auths) == 0 {
		return nil, fmt.Errorf("sftp source requires password or key")
	}
	cfg := ssh.ClientConfig{
		User:            s.user,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	conn, err := ssh.Dial("tcp", s.addr, &cfg)
	if err != nil {
		return nil, fmt.Errorf("ssh dial: %w", err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("sftp handshake: %w", err)
	}
	s.ssh, s.client = conn, client
	return client, nil
}

func (s *sftpConnector) remotePath(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "/")
	switch {
	case s.baseDir == "" && pattern == "":
		return "."
	case s.baseDir == "":
		return pattern
	}
	return path.Join(s.baseDir, pattern)
}
