package catalog

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow/internal/store"
)

// Bundle holds the raw files of one profile version.
type Bundle struct {
	Manifest []byte // profile.yaml
	Schema   []byte // schema.json
}

// Source is one place profiles can be resolved from. Sources are
// consulted in priority order; the first one holding the path wins.
type Source interface {
	// Name identifies the source in descriptors and cache keys.
	Name() string

	// Versions lists the versions available under the base path,
	// ascending. Empty means the path is unknown to this source.
	Versions(ctx context.Context, profilePath string) ([]int, error)

	// Load reads the bundle for an exact version.
	Load(ctx context.Context, profilePath string, version int) (*Bundle, error)

	// List returns profile base paths under the prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

const (
	manifestFile = "profile.yaml"
	schemaFile   = "schema.json"
)

var versionDirRe = regexp.MustCompile(`^v(\d+)$`)

// parseVersionDir returns the numeric version of a "vN" path segment.
func parseVersionDir(name string) (int, bool) {
	m := versionDirRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// --- filesystem source ---

// FSSource resolves profiles from a directory tree laid out as
// <root>/<profile-path>/v<N>/{profile.yaml,schema.json}.
type FSSource struct {
	name string
	root string
}

// NewFSSource creates a filesystem source. A missing root is not an
// error; the source simply resolves nothing.
func NewFSSource(name, root string) *FSSource {
	return &FSSource{name: name, root: root}
}

func (s *FSSource) Name() string { return s.name }

func (s *FSSource) Versions(_ context.Context, profilePath string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, filepath.FromSlash(profilePath)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", profilePath)
	}
	var versions []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := parseVersionDir(e.Name()); ok {
			versions = append(versions, n)
		}
	}
	sort.Ints(versions)
	return versions, nil
}

func (s *FSSource) Load(_ context.Context, profilePath string, version int) (*Bundle, error) {
	dir := filepath.Join(s.root, filepath.FromSlash(profilePath), "v"+strconv.Itoa(version))
	manifest, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read manifest %s/v%d", profilePath, version)
	}
	schema, err := os.ReadFile(filepath.Join(dir, schemaFile))
	if err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrapf(err, "catalog: read schema %s/v%d", profilePath, version)
	}
	return &Bundle{Manifest: manifest, Schema: schema}, nil
}

func (s *FSSource) List(_ context.Context, prefix string) ([]string, error) {
	if _, err := os.Stat(s.root); os.IsNotExist(err) {
		return nil, nil
	}
	seen := map[string]bool{}
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || d.Name() != manifestFile {
			return err
		}
		rel, err := filepath.Rel(s.root, filepath.Dir(filepath.Dir(p)))
		if err != nil {
			return err
		}
		base := filepath.ToSlash(rel)
		if strings.HasPrefix(base, prefix) {
			seen[base] = true
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: list %s", prefix)
	}
	return sortedKeys(seen), nil
}

// --- embedded built-in source ---

//go:embed builtin
var builtinFS embed.FS

// BuiltinSource serves the profiles packaged with the binary.
type BuiltinSource struct {
	fsys fs.FS
}

// NewBuiltinSource creates the packaged-profile source.
func NewBuiltinSource() *BuiltinSource {
	sub, err := fs.Sub(builtinFS, "builtin")
	if err != nil {
		// The builtin directory is compiled in; Sub cannot fail.
		panic(err)
	}
	return &BuiltinSource{fsys: sub}
}

func (s *BuiltinSource) Name() string { return "builtin" }

func (s *BuiltinSource) Versions(_ context.Context, profilePath string) ([]int, error) {
	entries, err := fs.ReadDir(s.fsys, path.Clean(profilePath))
	if err != nil {
		return nil, nil
	}
	var versions []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if n, ok := parseVersionDir(e.Name()); ok {
			versions = append(versions, n)
		}
	}
	sort.Ints(versions)
	return versions, nil
}

func (s *BuiltinSource) Load(_ context.Context, profilePath string, version int) (*Bundle, error) {
	dir := path.Join(path.Clean(profilePath), "v"+strconv.Itoa(version))
	manifest, err := fs.ReadFile(s.fsys, path.Join(dir, manifestFile))
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read builtin manifest %s/v%d", profilePath, version)
	}
	schema, err := fs.ReadFile(s.fsys, path.Join(dir, schemaFile))
	if err != nil {
		schema = nil
	}
	return &Bundle{Manifest: manifest, Schema: schema}, nil
}

func (s *BuiltinSource) List(_ context.Context, prefix string) ([]string, error) {
	seen := map[string]bool{}
	err := fs.WalkDir(s.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || path.Base(p) != manifestFile {
			return err
		}
		base := path.Dir(path.Dir(p))
		if strings.HasPrefix(base, prefix) {
			seen[base] = true
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "catalog: list builtin")
	}
	return sortedKeys(seen), nil
}

// --- object store source ---

// ObjectSource resolves profiles from an ObjectStore under a key prefix,
// e.g. a bucket holding profiles/<path>/v<N>/profile.yaml.
type ObjectSource struct {
	name   string
	store  store.ObjectStore
	prefix string
}

// NewObjectSource creates an object-store-backed source. prefix should
// end with "/" when non-empty.
func NewObjectSource(name string, st store.ObjectStore, prefix string) *ObjectSource {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &ObjectSource{name: name, store: st, prefix: prefix}
}

func (s *ObjectSource) Name() string { return s.name }

func (s *ObjectSource) Versions(ctx context.Context, profilePath string) ([]int, error) {
	keys, err := s.store.List(ctx, s.prefix+profilePath+"/")
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: list versions %s", profilePath)
	}
	seen := map[int]bool{}
	for _, key := range keys {
		rest := strings.TrimPrefix(key, s.prefix+profilePath+"/")
		seg, _, _ := strings.Cut(rest, "/")
		if n, ok := parseVersionDir(seg); ok {
			seen[n] = true
		}
	}
	var versions []int
	for n := range seen {
		versions = append(versions, n)
	}
	sort.Ints(versions)
	return versions, nil
}

func (s *ObjectSource) Load(ctx context.Context, profilePath string, version int) (*Bundle, error) {
	base := s.prefix + profilePath + "/v" + strconv.Itoa(version) + "/"
	manifest, err := s.store.Get(ctx, base+manifestFile)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: get manifest %s/v%d", profilePath, version)
	}
	schema, err := s.store.Get(ctx, base+schemaFile)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, eris.Wrapf(err, "catalog: get schema %s/v%d", profilePath, version)
	}
	return &Bundle{Manifest: manifest, Schema: schema}, nil
}

func (s *ObjectSource) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.store.List(ctx, s.prefix+prefix)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: list %s", prefix)
	}
	seen := map[string]bool{}
	for _, key := range keys {
		if !strings.HasSuffix(key, "/"+manifestFile) {
			continue
		}
		rel := strings.TrimPrefix(key, s.prefix)
		base := path.Dir(path.Dir(rel))
		if base != "." && base != "/" {
			seen[base] = true
		}
	}
	return sortedKeys(seen), nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
