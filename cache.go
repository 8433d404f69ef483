package stash

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/buildstash/stash/archive"
	"github.com/buildstash/stash/store"
	"github.com/buildstash/stash/store/disk"
	stashhttp "github.com/buildstash/stash/store/http"
)

// Cache orchestrates the two-tier entry store and the archive codec.
// It owns no persisted state of its own; all durable state lives in the
// backends, and every method is safe for concurrent use by independent
// task pipelines.
type Cache struct {
	local      *disk.Store
	remote     store.Store
	remotePush bool
	logger     *slog.Logger
	httpClient *nethttp.Client

	// loadGroup dedupes concurrent remote loads of the same key;
	// quarantineGroup collapses concurrent quarantines of the same
	// corrupt entry into one event.
	loadGroup       singleflight.Group
	quarantineGroup singleflight.Group
}

// New creates a cache from an explicit configuration.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Cache{remotePush: cfg.Remote.Push}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if cfg.Local.Enabled {
		local, err := disk.New(cfg.Local.Directory)
		if err != nil {
			return nil, fmt.Errorf("open local cache: %w", err)
		}
		c.local = local
	}

	if cfg.Remote.Enabled && c.remote == nil {
		remote, err := c.openRemote(cfg.Remote.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("open remote cache: %w", err)
		}
		c.remote = remote
	}

	return c, nil
}

// openRemote selects a remote backend from the endpoint address.
func (c *Cache) openRemote(endpoint string) (store.Store, error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		var httpOpts []stashhttp.Option
		if c.httpClient != nil {
			httpOpts = append(httpOpts, stashhttp.WithClient(c.httpClient))
		}
		return stashhttp.New(endpoint, httpOpts...)
	}
	return disk.New(endpoint)
}

// log returns the logger, falling back to a discard logger if nil.
func (c *Cache) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// LoadResult describes a cache hit.
type LoadResult struct {
	// Source is the tier that served the hit.
	Source Source

	// Outputs are the restored outputs in declaration order.
	Outputs []Output

	// Metadata is the origin record of the producing invocation.
	Metadata Metadata
}

// TryLoad looks up key in the local then the remote tier and, on a hit,
// restores the task's outputs to their declared paths.
//
// A full miss returns (nil, nil). A corrupt local entry is quarantined
// and reported as a *DecodeError with SourceLocal; callers that can
// re-execute may treat it as a recoverable miss (Run does). A corrupt
// or unreachable remote entry is a *DecodeError with SourceRemote and
// is never copied into the local tier.
func (c *Cache) TryLoad(ctx context.Context, key Key, task Task) (*LoadResult, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if err := task.validate(); err != nil {
		return nil, err
	}

	if c.local != nil {
		res, err := c.tryLoadLocal(ctx, key, task)
		if err != nil || res != nil {
			return res, err
		}
	}
	if c.remote != nil {
		return c.tryLoadRemote(ctx, key, task)
	}
	return nil, nil
}

// tryLoadLocal probes the local tier. A miss returns (nil, nil).
func (c *Cache) tryLoadLocal(ctx context.Context, key Key, task Task) (*LoadResult, error) {
	data, err := c.local.Load(ctx, key.String())
	if errors.Is(err, store.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load local cache entry %s: %w", key, err)
	}

	outputs, meta, err := archive.Unpack(ctx, bytes.NewReader(data), task.dests())
	if err != nil {
		if isCorrupt(err) {
			c.quarantine(key, data)
			return nil, &DecodeError{Key: key, Source: SourceLocal, Err: err}
		}
		return nil, fmt.Errorf("restore outputs for %s: %w", key, err)
	}

	c.log().Debug("local cache hit", "key", key, "task", task.Name)
	return &LoadResult{Source: SourceLocal, Outputs: outputs, Metadata: meta}, nil
}

// tryLoadRemote probes the remote tier. A verified entry is copied into
// the local tier so later runs hit locally; a corrupt one never is.
func (c *Cache) tryLoadRemote(ctx context.Context, key Key, task Task) (*LoadResult, error) {
	data, err := c.loadRemote(ctx, key)
	if errors.Is(err, store.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		// Transport failures route like decode failures: a remote the
		// operator configured but cannot trust fails the run.
		return nil, &DecodeError{Key: key, Source: SourceRemote, Err: err}
	}

	outputs, meta, err := archive.Unpack(ctx, bytes.NewReader(data), task.dests())
	if err != nil {
		if isCorrupt(err) {
			return nil, &DecodeError{Key: key, Source: SourceRemote, Err: err}
		}
		return nil, fmt.Errorf("restore outputs for %s: %w", key, err)
	}

	if c.local != nil {
		if err := c.local.Store(ctx, key.String(), data); err != nil {
			c.log().Warn("failed to copy remote entry into local cache", "key", key, "error", err)
		}
	}

	c.log().Info("remote cache hit", "key", key, "task", task.Name)
	return &LoadResult{Source: SourceRemote, Outputs: outputs, Metadata: meta}, nil
}

// loadRemote fetches entry bytes from the remote, deduping concurrent
// fetches of the same key.
func (c *Cache) loadRemote(ctx context.Context, key Key) ([]byte, error) {
	v, err, _ := c.loadGroup.Do(key.String(), func() (any, error) {
		return c.remote.Load(ctx, key.String())
	})
	if err != nil {
		return nil, err
	}
	data, _ := v.([]byte)
	return data, nil
}

// quarantine moves a corrupt local entry into the failed namespace.
// Concurrent readers of the same bad entry collapse to one quarantine
// event; quarantining an already-quarantined key is a no-op.
func (c *Cache) quarantine(key Key, raw []byte) {
	_, _, _ = c.quarantineGroup.Do(key.String(), func() (any, error) {
		if err := c.local.Quarantine(key.String(), raw); err != nil {
			c.log().Warn("failed to quarantine corrupt entry", "key", key, "error", err)
			return nil, nil
		}
		c.log().Warn("quarantined corrupt local cache entry", "key", key)
		return nil, nil
	})
}

// PackAndStore packs the task's outputs plus the origin metadata into
// an archive and persists it: local tier first, then the remote tier
// when push is enabled.
//
// Failures are fail-closed: a pack error stores and pushes nothing, and
// a local store error skips the remote push, so no backend ever holds
// an entry whose pack was not verified.
func (c *Cache) PackAndStore(ctx context.Context, key Key, task Task, meta Metadata) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := task.validate(); err != nil {
		return err
	}
	if meta.Task == "" {
		meta.Task = task.Name
	}

	var buf bytes.Buffer
	if err := archive.Pack(ctx, &buf, task.Outputs, meta); err != nil {
		return fmt.Errorf("pack outputs of %s for %s: %w", task.Name, key, err)
	}
	data := buf.Bytes()

	if c.local != nil {
		if err := c.local.Store(ctx, key.String(), data); err != nil {
			return fmt.Errorf("store cache entry %s: %w", key, err)
		}
		c.log().Debug("stored local cache entry", "key", key, "task", task.Name, "size", len(data))
	}

	if c.remote != nil && c.remotePush {
		if err := c.remote.Store(ctx, key.String(), data); err != nil {
			return fmt.Errorf("push cache entry %s: %w", key, err)
		}
		c.log().Debug("pushed cache entry to remote", "key", key, "task", task.Name)
	}

	return nil
}

// RunResult describes a completed run.
type RunResult struct {
	// Source tells how the outputs were produced: restored from the
	// local or remote tier, or freshly executed.
	Source Source

	// Metadata is the origin record of the producing invocation. For
	// executed runs it is the record just packed.
	Metadata Metadata
}

// Run drives one unit of work through the full pipeline: check local,
// check remote, execute on miss, then pack and store.
//
// A corrupt local entry is quarantined and the run falls back to
// execution, so the caller sees a normal (if slower) successful build.
// A corrupt remote entry fails the run without executing: a bad remote
// artifact usually signals a systemic problem the operator must see.
// Execution failures propagate untouched and nothing is packed.
func (c *Cache) Run(ctx context.Context, key Key, task Task, exec ExecFunc) (*RunResult, error) {
	res, err := c.TryLoad(ctx, key, task)
	switch {
	case err != nil:
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) && decodeErr.Source == SourceLocal {
			c.log().Warn("corrupt local cache entry, falling back to execution",
				"key", key, "task", task.Name, "cause", decodeErr.Err)
			break
		}
		return nil, err
	case res != nil:
		return &RunResult{Source: res.Source, Metadata: res.Metadata}, nil
	}

	start := time.Now()
	if err := exec(ctx); err != nil {
		return nil, err
	}

	meta := Metadata{
		Task:     task.Name,
		Duration: time.Since(start),
		Version:  FormatVersion,
	}
	if err := c.PackAndStore(ctx, key, task, meta); err != nil {
		return nil, err
	}
	return &RunResult{Source: SourceExecuted, Metadata: meta}, nil
}
