package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/dirsync/internal/transfer"
	"github.com/openmined/dirsync/internal/utils"
	"gopkg.in/yaml.v3"
)

const (
	BackendAPI = "api"
	BackendS3  = "s3"

	archiveExt = ".zip"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigDir   = filepath.Join(home, ".dirsync")
	DefaultStateDBPath = filepath.Join(DefaultConfigDir, "state.db")
	DefaultArchiveDir  = filepath.Join(DefaultConfigDir, "archive")
	DefaultLogFilePath = filepath.Join(DefaultConfigDir, "logs", "dirsync.log")
)

var (
	ErrNoTrackedDir  = errors.New("config: tracked directory is required")
	ErrNoPassword    = errors.New("config: archive password is required")
	ErrNoToken       = errors.New("config: access token is required for the api backend")
	ErrNoBucket      = errors.New("config: bucket is required for the s3 backend")
	ErrInsideTracked = errors.New("config: path must be outside the tracked directory")
	ErrBadBackend    = errors.New("config: unknown backend")
)

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Prefix    string `yaml:"prefix"`
}

// Config is built once at startup and handed to constructors. Core packages
// never read the environment themselves.
type Config struct {
	TrackedDir       string   `yaml:"dir"`
	ObjectPath       string   `yaml:"object_path"`
	Password         string   `yaml:"password"`
	AccessToken      string   `yaml:"access_token"`
	AuthScheme       string   `yaml:"auth_scheme"`
	ServerURL        string   `yaml:"server_url"`
	UploadEndpoint   string   `yaml:"upload_endpoint"`
	DownloadEndpoint string   `yaml:"download_endpoint"`
	Backend          string   `yaml:"backend"`
	S3               S3Config `yaml:"s3"`
	StateDBPath      string   `yaml:"state_db"`
	ArchivePath      string   `yaml:"archive"`
	KeepArchive      bool     `yaml:"keep_archive"`
	Exclude          []string `yaml:"exclude"`
	LogFile          string   `yaml:"log_file"`
}

// Validate fills defaults, resolves paths and checks the combination of settings.
func (c *Config) Validate() error {
	if c.TrackedDir == "" {
		return ErrNoTrackedDir
	}
	dir, err := utils.ResolvePath(c.TrackedDir)
	if err != nil {
		return fmt.Errorf("tracked dir: %w", err)
	}
	c.TrackedDir = dir

	if c.Password == "" {
		return ErrNoPassword
	}

	if c.ObjectPath == "" {
		c.ObjectPath = filepath.Base(c.TrackedDir) + archiveExt
	}
	c.ObjectPath = strings.TrimSpace(c.ObjectPath)

	if c.Backend == "" {
		c.Backend = BackendAPI
	}
	switch c.Backend {
	case BackendAPI:
		if err := c.validateAPI(); err != nil {
			return err
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return ErrNoBucket
		}
	default:
		return fmt.Errorf("%w %q", ErrBadBackend, c.Backend)
	}

	if c.StateDBPath == "" {
		c.StateDBPath = DefaultStateDBPath
	}
	if c.StateDBPath, err = c.outsideTracked("state db", c.StateDBPath); err != nil {
		return err
	}

	if c.ArchivePath == "" {
		c.ArchivePath = filepath.Join(DefaultArchiveDir, filepath.Base(filepath.FromSlash(c.ObjectPath)))
	}
	if c.ArchivePath, err = c.outsideTracked("archive", c.ArchivePath); err != nil {
		return err
	}

	if c.LogFile == "" {
		c.LogFile = DefaultLogFilePath
	}

	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("config: invalid exclude pattern %q", pattern)
		}
	}

	return nil
}

func (c *Config) validateAPI() error {
	if c.AccessToken == "" {
		return ErrNoToken
	}
	if c.ServerURL == "" {
		c.ServerURL = transfer.DefaultServerURL
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: invalid server url %q", c.ServerURL)
	}
	if c.AuthScheme == "" {
		c.AuthScheme = transfer.DefaultAuthScheme
	}
	if c.UploadEndpoint == "" {
		c.UploadEndpoint = transfer.DefaultUploadEndpoint
	}
	if c.DownloadEndpoint == "" {
		c.DownloadEndpoint = transfer.DefaultDownloadEndpoint
	}
	return nil
}

// outsideTracked resolves p and rejects it when it lies in the tracked tree;
// writing there would move the fingerprint on every run.
func (c *Config) outsideTracked(name, p string) (string, error) {
	resolved, err := utils.ResolvePath(p)
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if utils.IsWithin(c.TrackedDir, resolved) {
		return "", fmt.Errorf("%s %q: %w", name, resolved, ErrInsideTracked)
	}
	return resolved, nil
}

// APIConfig is the authorizer configuration for the api backend.
func (c *Config) APIConfig() transfer.APIConfig {
	return transfer.APIConfig{
		ServerURL:        c.ServerURL,
		UploadEndpoint:   c.UploadEndpoint,
		DownloadEndpoint: c.DownloadEndpoint,
		AuthScheme:       c.AuthScheme,
		AccessToken:      c.AccessToken,
	}
}

// S3AuthConfig is the authorizer configuration for the s3 backend.
func (c *Config) S3AuthConfig() transfer.S3Config {
	return transfer.S3Config{
		Bucket:    c.S3.Bucket,
		Region:    c.S3.Region,
		Endpoint:  c.S3.Endpoint,
		AccessKey: c.S3.AccessKey,
		SecretKey: c.S3.SecretKey,
		Prefix:    c.S3.Prefix,
	}
}

// LogValue keeps secrets out of logs.
func (c *Config) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("dir", c.TrackedDir),
		slog.String("object", c.ObjectPath),
		slog.String("backend", c.Backend),
		slog.String("state_db", c.StateDBPath),
		slog.String("archive", c.ArchivePath),
	}
	switch c.Backend {
	case BackendS3:
		attrs = append(attrs, slog.String("bucket", c.S3.Bucket))
	default:
		attrs = append(attrs,
			slog.String("server", c.ServerURL),
			slog.String("token", utils.MaskSecret(c.AccessToken)),
		)
	}
	return slog.GroupValue(attrs...)
}

// Redacted returns a copy with every secret masked.
func (c *Config) Redacted() *Config {
	out := *c
	out.Exclude = append([]string(nil), c.Exclude...)
	if out.Password != "" {
		out.Password = "*****"
	}
	if out.AccessToken != "" {
		out.AccessToken = utils.MaskSecret(out.AccessToken)
	}
	if out.S3.SecretKey != "" {
		out.S3.SecretKey = "*****"
	}
	return &out
}

// YAML renders the redacted config in the config file format.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}
