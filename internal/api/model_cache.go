package api

import (
	"context"
	"errors"
	"sync"

	"mcc/internal/artifact"
)

var errNoExporter = errors.New("no exporter configured")

// modelCache keeps the last export keyed by the artifact's mtime and size.
// Exports are serialized so concurrent reloads trigger one toolchain run.
type modelCache struct {
	exporter artifact.Exporter
	quality  artifact.Quality

	mu    sync.Mutex
	stamp artifactStamp
	data  []byte
}

func newModelCache(exporter artifact.Exporter, quality artifact.Quality) *modelCache {
	return &modelCache{exporter: exporter, quality: quality}
}

func (c *modelCache) Load(ctx context.Context, path string) ([]byte, error) {
	stamp, err := stampOf(path)
	if err != nil {
		return nil, err
	}
	if c.exporter == nil {
		return nil, errNoExporter
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data != nil && c.stamp == stamp {
		return c.data, nil
	}
	data, err := c.exporter.Export(ctx, path, c.quality)
	if err != nil {
		return nil, err
	}
	c.stamp = stamp
	c.data = data
	return data, nil
}
