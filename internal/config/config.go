// Package config resolves the intake client configuration from a snapshot
// of named values. Resolution is pure: the same snapshot always yields the
// same Config, and nothing reads the process environment behind its back.
package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultHost        = "http://localhost"
	DefaultPort        = "9001"
	DefaultTimeout     = 85 * time.Second
	DefaultConsoleBind = "127.0.0.1:8085"
	DefaultSource      = "local"
)

// Keys checked for an explicit API base, in order.
var baseKeys = []string{"INTAKE_API_BASE", "VITE_DOC_API_BASE", "VITE_ANSWER_API_BASE"}

// Keys checked for the API port, in order. Documents and answers share one port.
var portKeys = []string{
	"VITE_DOCUMENT_API_PORT",
	"DOCUMENT_API_PORT",
	"VITE_DOC_API_PORT",
	"VITE_ANSWER_API_PORT",
	"ANSWER_API_PORT",
}

var timeoutKeys = []string{"INTAKE_REQUEST_TIMEOUT_MS", "VITE_UI_REQUEST_TIMEOUT_MS"}

// Env is a named key-value snapshot.
type Env map[string]string

// Environ snapshots the process environment.
func Environ() Env {
	env := make(Env)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// Merge returns base overlaid with the non-empty values of overlay.
func Merge(base, overlay Env) Env {
	out := make(Env, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

func (e Env) first(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(e[k]); v != "" {
			return v
		}
	}
	return ""
}

func (e Env) str(key, def string) string {
	if v := e.first(key); v != "" {
		return v
	}
	return def
}

func (e Env) boolean(def bool, keys ...string) bool {
	if v := e.first(keys...); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func (e Env) list(key string) []string {
	raw := e.first(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Config is the typed configuration injected into the workflows and surfaces.
type Config struct {
	APIBase     string
	Timeout     time.Duration
	ConsoleBind string
	Source      SourceConfig
	DLP         DLPConfig
}

// DocumentsUploadURL is the ingestion endpoint.
func (c Config) DocumentsUploadURL() string { return c.APIBase + "/api/documents/upload" }

// RFPUploadURL is the RFP upload endpoint.
func (c Config) RFPUploadURL() string { return c.APIBase + "/api/rfp/upload" }

// BulkAnswersURL is the bulk answer generation endpoint.
func (c Config) BulkAnswersURL() string { return c.APIBase + "/api/answers/bulk-generate" }

// TimeoutSeconds is the timeout rounded to whole seconds, as shown to users.
func (c Config) TimeoutSeconds() int {
	return int(math.Round(c.Timeout.Seconds()))
}

// SourceConfig selects and configures where candidate files are listed from.
type SourceConfig struct {
	Kind  string
	S3    S3Config
	Azure AzureConfig
	SFTP  SFTPConfig
	FTPS  FTPSConfig
}

type S3Config struct {
	Bucket string
	Prefix string
}

type AzureConfig struct {
	Account   string
	Key       string
	Container string
	Prefix    string
}

type SFTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	KeyPath  string
	BaseDir  string
}

type FTPSConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	BaseDir  string
}

// DLPConfig drives the local preflight scanner.
type DLPConfig struct {
	Disabled          bool
	Monitor           bool
	BlockedExtensions []string
	MaxFileSize       uint64
	AVPatterns        []string
	RequirePDFMagic   bool
}

// Resolve builds a Config from env. The API base is the explicit override
// if set, else the configured port on the loopback host, else DefaultPort.
func Resolve(env Env) (Config, error) {
	base, err := resolveBase(env)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		APIBase:     base,
		Timeout:     resolveTimeout(env),
		ConsoleBind: sanitizeListenAddr(env.str("INTAKE_CONSOLE_BIND", DefaultConsoleBind)),
		Source:      resolveSource(env),
		DLP:         resolveDLP(env),
	}
	return cfg, nil
}

// sanitizeListenAddr trims whitespace and trailing notes so values like
// ":8085 # console" still listen on the intended address.
func sanitizeListenAddr(value string) string {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return DefaultConsoleBind
	}
	return strings.Trim(fields[0], "\"'")
}

func resolveBase(env Env) (string, error) {
	if raw := env.first(baseKeys...); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("parse api base %q: %w", raw, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return "", fmt.Errorf("api base %q must be an absolute http(s) URL", raw)
		}
		return strings.TrimSuffix(raw, "/"), nil
	}
	port := env.first(portKeys...)
	if port == "" {
		port = DefaultPort
	}
	if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("invalid api port %q", port)
	}
	return DefaultHost + ":" + port, nil
}

func resolveTimeout(env Env) time.Duration {
	raw := env.first(timeoutKeys...)
	if raw == "" {
		return DefaultTimeout
	}
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil || ms <= 0 || math.IsInf(ms, 0) || math.IsNaN(ms) {
		return DefaultTimeout
	}
	return time.Duration(ms * float64(time.Millisecond))
}

func resolveSource(env Env) SourceConfig {
	return SourceConfig{
		Kind: strings.ToLower(env.str("INTAKE_SOURCE", DefaultSource)),
		S3: S3Config{
			Bucket: env.str("S3_BUCKET", ""),
			Prefix: env.str("S3_PREFIX", ""),
		},
		Azure: AzureConfig{
			Account:   env.str("AZURE_STORAGE_ACCOUNT", ""),
			Key:       env.str("AZURE_STORAGE_KEY", ""),
			Container: env.str("AZURE_BLOB_CONTAINER", ""),
			Prefix:    env.str("AZURE_BLOB_PREFIX", ""),
		},
		SFTP: SFTPConfig{
			Host:     env.str("SFTP_HOST", ""),
			Port:     env.str("SFTP_PORT", "22"),
			User:     env.str("SFTP_USER", ""),
			Password: env.str("SFTP_PASSWORD", ""),
			KeyPath:  env.str("SFTP_KEY_PATH", ""),
			BaseDir:  env.str("SFTP_BASE_DIR", ""),
		},
		FTPS: FTPSConfig{
			Host:     env.str("FTPS_HOST", ""),
			Port:     env.str("FTPS_PORT", "21"),
			User:     env.str("FTPS_USER", ""),
			Password: env.str("FTPS_PASSWORD", ""),
			BaseDir:  env.str("FTPS_BASE_DIR", ""),
		},
	}
}

func resolveDLP(env Env) DLPConfig {
	cfg := DLPConfig{
		Disabled:          env.boolean(false, "INTAKE_DLP_DISABLED", "DLP_DISABLED"),
		Monitor:           strings.EqualFold(env.first("DLP_MODE"), "monitor"),
		BlockedExtensions: env.list("DLP_BLOCKED_EXTENSIONS"),
		AVPatterns:        env.list("DLP_AV_PATTERNS"),
		RequirePDFMagic:   env.boolean(false, "DLP_REQUIRE_PDF_MAGIC"),
	}
	if raw := env.first("DLP_MAX_FILE_SIZE"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
			cfg.MaxFileSize = v
		}
	}
	return cfg
}
