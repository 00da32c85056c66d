package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/sealed-keymaster/interfaces"
)

// StorageBackendFactory turns location URIs into artifact stores:
//
//	file:///abs/path  file://./rel/path  /bare/path
//	s3://[ACCESS:SECRET@]bucket[/prefix][?region=..&endpoint=..]
//	vault://[TOKEN@]host:port[/mount[/path]][?tls=false]
type StorageBackendFactory struct {
	log *slog.Logger
}

func NewStorageBackendFactory(log *slog.Logger) *StorageBackendFactory {
	return &StorageBackendFactory{log: log}
}

type opener func(sf *StorageBackendFactory, u *url.URL) (interfaces.ArtifactStore, error)

var openers = map[string]opener{
	"file":  (*StorageBackendFactory).openFile,
	"s3":    (*StorageBackendFactory).openS3,
	"vault": (*StorageBackendFactory).openVault,
}

// StorageBackendFor opens a single location. A string without a scheme is
// a filesystem path.
func (sf *StorageBackendFactory) StorageBackendFor(location string) (interfaces.ArtifactStore, error) {
	if location == "" {
		return nil, fmt.Errorf("%w: empty location", interfaces.ErrInvalidLocationURI)
	}
	if !strings.Contains(location, "://") {
		return NewFileBackend(location, sf.log)
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}
	open, ok := openers[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported storage scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}

	sf.log.Debug("opening storage", "scheme", u.Scheme, "host", u.Host)
	return open(sf, u)
}

// CreateMultiBackend opens every location and replicates over them. Any bad
// location fails the whole set so that writes are never silently dropped.
func (sf *StorageBackendFactory) CreateMultiBackend(locations []string) (interfaces.ArtifactStore, error) {
	if len(locations) == 0 {
		return nil, fmt.Errorf("%w: no storage configured", interfaces.ErrConfig)
	}

	stores := make([]interfaces.ArtifactStore, len(locations))
	for i, location := range locations {
		store, err := sf.StorageBackendFor(location)
		if err != nil {
			return nil, fmt.Errorf("storage %q: %w", location, err)
		}
		stores[i] = store
	}

	if len(stores) == 1 {
		return stores[0], nil
	}
	return NewReplicatedStore(stores, sf.log), nil
}

func (sf *StorageBackendFactory) openFile(u *url.URL) (interfaces.ArtifactStore, error) {
	dir := u.Path
	if u.Host != "" {
		dir = u.Host + "/" + strings.TrimPrefix(dir, "/")
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: empty path in %s", interfaces.ErrInvalidLocationURI, u)
	}
	return NewFileBackend(dir, sf.log)
}

func (sf *StorageBackendFactory) openS3(u *url.URL) (interfaces.ArtifactStore, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: s3 location needs a bucket", interfaces.ErrInvalidLocationURI)
	}

	q := u.Query()
	region := q.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Backend(u.Host, u.Path, region, q.Get("endpoint"), accessKey, secretKey, sf.log)
}

func (sf *StorageBackendFactory) openVault(u *url.URL) (interfaces.ArtifactStore, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: vault location needs a host", interfaces.ErrInvalidLocationURI)
	}

	scheme := "https"
	switch u.Query().Get("tls") {
	case "false", "0", "no":
		scheme = "http"
	}

	mount, base, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	if mount == "" {
		mount = "secret"
	}

	var token string
	if u.User != nil {
		token = u.User.Username()
	}

	return NewVaultBackend(scheme+"://"+u.Host, token, mount, base, sf.log)
}
