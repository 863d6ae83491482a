package secrets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	defaultVersion      = "latest"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// ErrSecretNotFound indicates the referenced secret does not exist.
var ErrSecretNotFound = errors.New("secrets: secret not found")

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references using Google Secret Manager with
// in-process caching and a local fallback file for development.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool

	logger        *zap.Logger
	defaultProjID string

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	fetchedAt time.Time
}

type fetcherConfig struct {
	logger       *zap.Logger
	defaultProj  string
	fallbackPath string
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithDefaultProject configures the project ID used for bare secret names.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.defaultProj = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile overrides the path to the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithSecretManagerClient injects a preconfigured Secret Manager client (primarily for tests).
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher with secret caching and local fallback support.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	fetcher := &Fetcher{
		logger:        cfg.logger,
		defaultProjID: cfg.defaultProj,
		fallbackPath:  cfg.fallbackPath,
		cache:         make(map[string]cacheEntry),
	}

	if cfg.client != nil {
		fetcher.client = cfg.client
		return fetcher, nil
	}

	client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
	if err != nil {
		// Fall back to the local secrets file when Secret Manager is unreachable
		// (local development without credentials).
		cfg.logger.Warn("secrets: secret manager unavailable, using local fallback", zap.Error(err))
		return fetcher, nil
	}
	fetcher.client = client
	fetcher.ownsClient = true
	return fetcher, nil
}

// ResolveSecret resolves a secret:// reference of the form
// secret://[project/]name[@version], satisfying config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	if f == nil {
		return "", errors.New("secrets: fetcher is nil")
	}

	project, name, version, err := f.parseRef(ref)
	if err != nil {
		return "", err
	}

	cacheKey := fmt.Sprintf("%s/%s@%s", project, name, version)

	f.mu.RLock()
	if entry, ok := f.cache[cacheKey]; ok {
		f.mu.RUnlock()
		return entry.value, nil
	}
	f.mu.RUnlock()

	value, err := f.fetch(ctx, project, name, version)
	if err != nil {
		return "", err
	}

	f.mu.Lock()
	f.cache[cacheKey] = cacheEntry{value: value, fetchedAt: time.Now()}
	f.mu.Unlock()
	return value, nil
}

// Close releases the Secret Manager client when owned by the fetcher.
func (f *Fetcher) Close() error {
	if f == nil || f.client == nil || !f.ownsClient {
		return nil
	}
	return f.client.Close()
}

func (f *Fetcher) parseRef(ref string) (project, name, version string, err error) {
	trimmed := strings.TrimSpace(ref)
	trimmed = strings.TrimPrefix(trimmed, "secret://")
	if trimmed == "" {
		return "", "", "", errors.New("secrets: empty secret reference")
	}

	version = defaultVersion
	if at := strings.LastIndex(trimmed, "@"); at >= 0 {
		version = strings.TrimSpace(trimmed[at+1:])
		trimmed = trimmed[:at]
		if version == "" {
			version = defaultVersion
		}
	}

	parts := strings.SplitN(trimmed, "/", 2)
	switch len(parts) {
	case 1:
		project = f.defaultProjID
		name = strings.TrimSpace(parts[0])
	default:
		project = strings.TrimSpace(parts[0])
		name = strings.TrimSpace(parts[1])
	}
	if name == "" {
		return "", "", "", fmt.Errorf("secrets: invalid secret reference %q", ref)
	}
	return project, name, version, nil
}

func (f *Fetcher) fetch(ctx context.Context, project, name, version string) (string, error) {
	if f.client != nil && project != "" {
		resource := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", project, name, version)
		resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resource})
		if err == nil && resp.GetPayload() != nil {
			return string(resp.GetPayload().GetData()), nil
		}
		if status.Code(err) != codes.NotFound {
			f.logger.Warn("secrets: secret manager access failed", zap.String("secret", name), zap.Error(err))
		}
	}

	if value, ok := f.fallback(name); ok {
		return value, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
}

func (f *Fetcher) fallback(name string) (string, bool) {
	f.fallbackOnce.Do(func() {
		f.fallbackVals, f.fallbackErr = loadFallbackFile(f.fallbackPath)
		if f.fallbackErr != nil {
			f.logger.Warn("secrets: unable to load fallback file", zap.Error(f.fallbackErr))
		}
	})
	if f.fallbackVals == nil {
		return "", false
	}
	value, ok := f.fallbackVals[name]
	return value, ok
}

func loadFallbackFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(parts[1]), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}
