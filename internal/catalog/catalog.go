// Package catalog resolves profile paths to versioned profile bundles
// from a prioritized set of sources, with a time-bounded cache.
package catalog

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/docflow/internal/model"
)

// manifest is the on-disk profile.yaml shape.
type manifest struct {
	Name              string           `yaml:"name"`
	Prompt            string           `yaml:"prompt"`
	SystemInstruction string           `yaml:"system_instruction"`
	Model             string           `yaml:"model"`
	Defaults          model.Parameters `yaml:"defaults"`
}

type cacheKey struct {
	source  string
	path    string
	version int // 0 = latest at resolve time
}

type cacheEntry struct {
	profile   *model.Profile
	expiresAt time.Time
}

// Catalog resolves profile paths against sources in priority order.
// Entries are cached for a TTL; expiry is the only invalidation, which
// is acceptable because profiles change infrequently.
type Catalog struct {
	sources []Source
	ttl     time.Duration
	now     func() time.Time

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithClock injects the time source so tests control cache expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

// New creates a Catalog over the given sources, highest priority first.
func New(sources []Source, ttl time.Duration, opts ...Option) *Catalog {
	c := &Catalog{
		sources: sources,
		ttl:     ttl,
		now:     time.Now,
		cache:   make(map[cacheKey]cacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SplitVersion separates a trailing /vN version segment from a profile
// path: "invoices/extract/v2" → ("invoices/extract", 2).
func SplitVersion(profilePath string) (string, int) {
	base := strings.Trim(profilePath, "/")
	if i := strings.LastIndex(base, "/"); i >= 0 {
		if n, ok := parseVersionDir(base[i+1:]); ok {
			return base[:i], n
		}
	}
	return base, 0
}

// Resolve loads a profile by path. version 0 selects the maximum
// version available in the winning source.
func (c *Catalog) Resolve(ctx context.Context, profilePath string, version int) (*model.Profile, error) {
	profilePath = strings.Trim(profilePath, "/")
	if profilePath == "" {
		return nil, model.NewValidationError("profile_path", "must not be empty")
	}

	for _, src := range c.sources {
		key := cacheKey{source: src.Name(), path: profilePath, version: version}
		if p, ok := c.cached(key); ok {
			return p, nil
		}

		versions, err := src.Versions(ctx, profilePath)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			continue
		}

		resolved := version
		if resolved == 0 {
			resolved = versions[len(versions)-1]
		} else if !containsInt(versions, resolved) {
			continue
		}

		bundle, err := src.Load(ctx, profilePath, resolved)
		if err != nil {
			return nil, err
		}
		profile, err := buildProfile(profilePath, resolved, bundle)
		if err != nil {
			return nil, err
		}

		c.put(key, profile)
		zap.L().Debug("profile resolved",
			zap.String("path", profilePath),
			zap.Int("version", resolved),
			zap.String("source", src.Name()),
		)
		return profile, nil
	}

	return nil, eris.Wrapf(model.ErrProfileNotFound, "catalog: %s", profilePath)
}

// List enumerates profiles across all sources. Earlier sources shadow
// later ones for the same path.
func (c *Catalog) List(ctx context.Context, prefix string, includeVersions bool) ([]model.ProfileDescriptor, error) {
	seen := map[string]bool{}
	var out []model.ProfileDescriptor
	for _, src := range c.sources {
		paths, err := src.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		for _, p := range paths {
			if seen[p] {
				continue
			}
			seen[p] = true
			d := model.ProfileDescriptor{Path: p, Source: src.Name()}
			versions, err := src.Versions(ctx, p)
			if err != nil {
				return nil, err
			}
			if len(versions) > 0 {
				d.Latest = versions[len(versions)-1]
			}
			if includeVersions {
				d.Versions = versions
			}
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *Catalog) cached(key cacheKey) (*model.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[key]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.profile, true
}

func (c *Catalog) put(key cacheKey, p *model.Profile) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.cache[key] = cacheEntry{profile: p, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func buildProfile(profilePath string, version int, bundle *Bundle) (*model.Profile, error) {
	var m manifest
	if err := yaml.Unmarshal(bundle.Manifest, &m); err != nil {
		return nil, eris.Wrapf(err, "catalog: parse manifest %s/v%d", profilePath, version)
	}

	var schema json.RawMessage
	if len(bundle.Schema) > 0 {
		if !json.Valid(bundle.Schema) {
			return nil, eris.Errorf("catalog: schema for %s/v%d is not valid JSON", profilePath, version)
		}
		schema = json.RawMessage(bundle.Schema)
	}

	name := m.Name
	if name == "" {
		name = profilePath
	}

	return &model.Profile{
		Name:              name,
		Path:              profilePath,
		Version:           version,
		Schema:            schema,
		Prompt:            m.Prompt,
		SystemInstruction: m.SystemInstruction,
		Defaults:          m.Defaults,
		Model:             m.Model,
	}, nil
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}
