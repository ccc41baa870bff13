package platform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aretw0/placard/pkg/adapters/fs"
	"github.com/aretw0/placard/pkg/adapters/memory"
	"github.com/aretw0/placard/pkg/adapters/sqlite"
	"github.com/aretw0/placard/pkg/core"
)

// Init opens and initializes the store selected by the options.
// The 'uri' argument is adapter-specific: a directory for 'fs', a database file
// (or ":memory:") for 'sqlite', and ignored for 'memory'.
func Init(uri string, opts ...Option) (core.Store, error) {
	o := newOptions(opts)
	return initStore(uri, o)
}

func initStore(uri string, o *options) (core.Store, error) {
	// 1. Check for injected store
	if o.store != nil {
		return o.store, nil
	}

	// 2. Initialize based on Adapter
	var store core.Store
	var err error

	switch o.adapter {
	case AdapterFS:
		store, err = initFS(uri, o)
	case AdapterSQLite:
		store, err = initSQLite(uri, o)
	case AdapterMemory:
		readOnly, _ := o.config["read_only"].(bool)
		store = memory.NewStore(memory.WithReadOnly(readOnly))
	default:
		return nil, fmt.Errorf("unknown adapter: %s", o.adapter)
	}

	if err != nil {
		return nil, err
	}

	// 3. Run Initialization
	if err := store.Initialize(context.Background()); err != nil {
		_ = closeStore(store)
		return nil, err
	}

	return store, nil
}

// resolvePath applies the dev sandbox rules to a user supplied path.
func resolvePath(path string, o *options) (string, bool) {
	tempDir, _ := o.config["temp_dir"].(bool)
	isReadOnly, _ := o.config["read_only"].(bool)
	devSafety := true
	if val, ok := o.config["dev_safety"].(bool); ok {
		devSafety = val
	}

	// Read-only stores cannot damage anything.
	bypassSafety := isReadOnly || !devSafety
	useTemp := tempDir || (IsDevRun() && !bypassSafety)
	resolved := ResolveVaultPath(path, useTemp)

	if IsDevRun() && o.logger != nil {
		switch {
		case bypassSafety && isReadOnly:
			o.logger.Debug("running in READ-ONLY mode (bypassing dev sandbox)", "path", resolved)
		case bypassSafety:
			o.logger.Warn("running in UNSAFE mode (bypassing dev sandbox)", "path", resolved)
		default:
			o.logger.Debug("running in SAFE mode (dev sandbox enabled)", "path", resolved)
		}
	}
	return resolved, useTemp
}

// initFS handles the initialization logic for the Filesystem adapter
func initFS(path string, o *options) (core.Store, error) {
	autoInit, _ := o.config["auto_init"].(bool)
	gitless, _ := o.config["gitless"].(bool)
	mustExist, _ := o.config["must_exist"].(bool)
	strict, _ := o.config["strict"].(bool)
	format, _ := o.config["format"].(string)
	systemDir, _ := o.config["system_dir"].(string)
	errorHandler, _ := o.config["watcher_error_handler"].(func(error))
	isReadOnly, _ := o.config["read_only"].(bool)

	resolvedPath, useTemp := resolvePath(path, o)

	if systemDir == "" {
		systemDir = fs.DefaultSystemDir
	}

	// Smart Gitless Detection
	// If "gitless" is not explicitly configured, we detect the environment.
	if _, ok := o.config["gitless"]; !ok {
		if _, err := os.Stat(filepath.Join(resolvedPath, ".git")); err == nil {
			gitless = false
		} else if autoInit {
			// An existing system dir without .git is a gitless store; a fresh start defaults to git.
			_, statErr := os.Stat(filepath.Join(resolvedPath, systemDir))
			gitless = statErr == nil
		} else {
			gitless = true
		}
		if !gitless && !fs.IsGitInstalled() {
			gitless = true
		}
		if gitless && o.logger != nil {
			o.logger.Debug("auto-detected gitless mode", "path", resolvedPath)
		}
	}

	if o.logger != nil && useTemp {
		o.logger.Warn("running in SAFE MODE (Dev/Test)", "original_path", path, "resolved_path", resolvedPath)
	}

	store := fs.NewStore(fs.Config{
		Path:         resolvedPath,
		AutoInit:     autoInit,
		Gitless:      gitless,
		MustExist:    mustExist || (!autoInit && !useTemp),
		ReadOnly:     isReadOnly,
		Logger:       o.logger,
		SystemDir:    systemDir,
		Format:       format,
		ErrorHandler: errorHandler,
	})

	if strict {
		store.RegisterSerializer(".json", &fs.JSONSerializer{Strict: true})
		store.RegisterSerializer(".yaml", &fs.YAMLSerializer{Strict: true})
		store.RegisterSerializer(".yml", &fs.YAMLSerializer{Strict: true})
	}

	// Register Custom Serializers
	for ext, s := range o.serializers {
		serializer, ok := s.(fs.Serializer)
		if !ok {
			if o.logger != nil {
				o.logger.Warn("invalid serializer type ignored", "ext", ext, "expected", "fs.Serializer")
			}
			return nil, fmt.Errorf("serializer for %s must implement fs.Serializer", ext)
		}
		store.RegisterSerializer(ext, serializer)
	}

	return store, nil
}

// initSQLite opens the SQLite adapter. Relative database files follow the
// same sandbox rules as fs directories.
func initSQLite(uri string, o *options) (core.Store, error) {
	isReadOnly, _ := o.config["read_only"].(bool)
	path := uri
	if path == "" {
		path = "placard.db"
	}
	if path != ":memory:" {
		dir, useTemp := resolvePath(filepath.Dir(path), o)
		path = filepath.Join(dir, filepath.Base(path))
		if useTemp && !isReadOnly {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create sandbox directory: %w", err)
			}
		}
	}

	store, err := sqlite.Open(path, sqlite.WithReadOnly(isReadOnly))
	if err != nil {
		return nil, err
	}
	if o.logger != nil {
		o.logger.Debug("opened sqlite store", "path", path)
	}
	return store, nil
}
