package registry

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"
	"strings"
)

// Plugin is the symbol a shared object exports to extend the engine. Name is the
// node or trigger type it is registered under.
type Plugin[T any] interface {
	Name() string
	Implementation() T
}

// LoadPlugins opens every "*.so" under <pluginsPath>/<symbolName lowercased>s and looks up
// the exported symbolName. A missing directory yields no plugins.
func LoadPlugins[T any](ctx context.Context, logger *slog.Logger, pluginsPath string, symbolName string) ([]Plugin[T], error) {
	rootPath := filepath.Join(pluginsPath, strings.ToLower(symbolName)+"s")

	if _, err := os.Stat(rootPath); os.IsNotExist(err) {
		return nil, nil
	}

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", rootPath), slog.String("type", symbolName))
	l.InfoContext(ctx, "Loading plugins", "count", len(pluginPathList))

	plugins := make([]Plugin[T], 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(filepath.Join(rootPath, p))
		if err != nil {
			return nil, fmt.Errorf("failed to open plugin %s: %w", p, err)
		}

		symbol, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s does not export %s: %w", p, symbolName, err)
		}

		loaded, ok := symbol.(Plugin[T])
		if !ok {
			return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, symbol)
		}

		plugins = append(plugins, loaded)

		l.InfoContext(ctx, "Loaded plugin", "plugin", p, "name", loaded.Name())
	}

	return plugins, nil
}

// RegisterPlugins loads plugins and registers them, last writer wins.
func RegisterPlugins[T any](ctx context.Context, logger *slog.Logger, r *Registry[T], pluginsPath, symbolName string) error {
	plugins, err := LoadPlugins[T](ctx, logger, pluginsPath, symbolName)
	if err != nil {
		return err
	}

	for _, p := range plugins {
		r.Register(p.Name(), p.Implementation())
	}

	return nil
}
