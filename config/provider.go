package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// overlay is the subset of Config that may be overridden at runtime via the
// overlay file. Pointer fields distinguish "absent" from "set to empty".
type overlay struct {
	Issuer             *string `json:"issuer,omitempty"`
	Audience           *string `json:"audience,omitempty"`
	Scopes             *string `json:"scopes,omitempty"`
	JWKSURI            *string `json:"jwks_uri,omitempty"`
	UpstreamBaseURL    *string `json:"upstream_base_url,omitempty"`
	UpstreamPathPrefix *string `json:"upstream_path_prefix,omitempty"`
}

// Provider hands out configuration snapshots. The dispatcher calls Snapshot
// on every request so issuer/audience changes land without a restart: either
// via the overlay file (watched with fsnotify) or a process restart picking
// up new env.
type Provider struct {
	mu   sync.RWMutex
	base Config
	ov   overlay
	log  *slog.Logger
}

// NewProvider wraps base. If base.OverlayPath is set the file is loaded
// immediately; missing files are tolerated until they appear.
func NewProvider(base Config, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	p := &Provider{base: base, log: log}
	if base.OverlayPath != "" {
		p.reload()
	}
	return p
}

// Snapshot returns the effective configuration at this instant.
func (p *Provider) Snapshot() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cfg := p.base
	if p.ov.Issuer != nil {
		cfg.Issuer = *p.ov.Issuer
	}
	if p.ov.Audience != nil {
		cfg.Audience = *p.ov.Audience
	}
	if p.ov.Scopes != nil {
		cfg.Scopes = *p.ov.Scopes
	}
	if p.ov.JWKSURI != nil {
		cfg.JWKSURI = *p.ov.JWKSURI
	}
	if p.ov.UpstreamBaseURL != nil {
		cfg.UpstreamBaseURL = *p.ov.UpstreamBaseURL
	}
	if p.ov.UpstreamPathPrefix != nil {
		cfg.UpstreamPathPrefix = *p.ov.UpstreamPathPrefix
	}
	return cfg
}

// Watch follows the overlay file until ctx is done. Returns immediately when
// no overlay path is configured. The parent directory is watched rather than
// the file itself so atomic rename-into-place updates are caught.
func (p *Provider) Watch(ctx context.Context) error {
	if p.base.OverlayPath == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(p.base.OverlayPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(p.base.OverlayPath) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					p.reload()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				p.log.Warn("config overlay watch error", slog.String("err", err.Error()))
			}
		}
	}()
	return nil
}

func (p *Provider) reload() {
	raw, err := os.ReadFile(p.base.OverlayPath)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.Warn("config overlay read failed",
				slog.String("path", p.base.OverlayPath), slog.String("err", err.Error()))
		}
		return
	}
	var ov overlay
	if err := json.Unmarshal(raw, &ov); err != nil {
		p.log.Warn("config overlay is not valid JSON; keeping previous values",
			slog.String("path", p.base.OverlayPath), slog.String("err", err.Error()))
		return
	}
	p.mu.Lock()
	p.ov = ov
	p.mu.Unlock()
	p.log.Info("config overlay applied", slog.String("path", p.base.OverlayPath))
}
