package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/sealed-keymaster/interfaces"
)

// ReplicatedStore mirrors artifacts over several stores. Reads go to the
// first reachable replica that has the artifact. A write lands if any
// replica took it. A delete must reach every replica.
type ReplicatedStore struct {
	replicas []interfaces.ArtifactStore
	log      *slog.Logger
}

func NewReplicatedStore(replicas []interfaces.ArtifactStore, log *slog.Logger) *ReplicatedStore {
	if log == nil {
		log = slog.Default()
	}
	return &ReplicatedStore{replicas: replicas, log: log}
}

// reachable calls fn for each replica that reports itself available and
// returns how many were visited. fn returning true stops the walk.
func (r *ReplicatedStore) reachable(ctx context.Context, fn func(interfaces.ArtifactStore) bool) int {
	visited := 0
	for _, replica := range r.replicas {
		if !replica.Available(ctx) {
			r.log.Debug("replica unavailable", "replica", replica.Name())
			continue
		}
		visited++
		if fn(replica) {
			break
		}
	}
	return visited
}

func (r *ReplicatedStore) Exists(ctx context.Context, folder, name string) (bool, error) {
	var (
		found bool
		errs  []error
	)
	visited := r.reachable(ctx, func(s interfaces.ArtifactStore) bool {
		ok, err := s.Exists(ctx, folder, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
		found = ok
		return ok
	})
	if !found && visited > 0 && len(errs) == visited {
		return false, errors.Join(errs...)
	}
	return found, nil
}

// Read reports ErrNotFound only when every reachable replica says so.
func (r *ReplicatedStore) Read(ctx context.Context, folder, name string) ([]byte, error) {
	var (
		data        []byte
		errs        []error
		allNotFound = true
	)
	visited := r.reachable(ctx, func(s interfaces.ArtifactStore) bool {
		d, err := s.Read(ctx, folder, name)
		if err == nil {
			data = d
			return true
		}
		if !errors.Is(err, interfaces.ErrNotFound) {
			allNotFound = false
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		return false
	})

	switch {
	case data != nil:
		return data, nil
	case visited == 0:
		return nil, interfaces.ErrBackendUnavailable
	case allNotFound:
		return nil, fmt.Errorf("%w: %s/%s", interfaces.ErrNotFound, folder, name)
	}

	r.log.Error("no replica could serve read", "folder", folder, "name", name, "failures", len(errs))
	return nil, fmt.Errorf("read %s/%s: %w", folder, name, errors.Join(errs...))
}

func (r *ReplicatedStore) Write(ctx context.Context, folder, name string, data []byte) error {
	var (
		stored int
		errs   []error
	)
	visited := r.reachable(ctx, func(s interfaces.ArtifactStore) bool {
		if err := s.Write(ctx, folder, name, data); err != nil {
			r.log.Warn("replica write failed", "replica", s.Name(), "folder", folder, "name", name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			return false
		}
		stored++
		return false
	})

	switch {
	case stored > 0:
		return nil
	case visited == 0:
		return interfaces.ErrBackendUnavailable
	}
	return fmt.Errorf("write %s/%s: %w", folder, name, errors.Join(errs...))
}

// Delete fails if any replica, reachable or not, may still hold a copy.
func (r *ReplicatedStore) Delete(ctx context.Context, folder, name string) error {
	var errs []error
	for _, replica := range r.replicas {
		err := interfaces.ErrBackendUnavailable
		if replica.Available(ctx) {
			err = replica.Delete(ctx, folder, name)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", replica.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *ReplicatedStore) Available(ctx context.Context) bool {
	return r.reachable(ctx, func(interfaces.ArtifactStore) bool { return true }) > 0
}

func (r *ReplicatedStore) Name() string {
	return "replicated"
}

func (r *ReplicatedStore) LocationURI() string {
	uris := make([]string, 0, len(r.replicas))
	for _, replica := range r.replicas {
		uris = append(uris, replica.LocationURI())
	}
	return "multi:[" + strings.Join(uris, ",") + "]"
}
