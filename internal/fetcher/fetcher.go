package fetcher

import (
	"context"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/docflow/internal/model"
	"github.com/sells-group/docflow/internal/store"
)

// Downloader fetches a URL and returns its body.
type Downloader interface {
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// Options configures the normalizer.
type Options struct {
	// MaxFileBytes caps the size of a single fetched file. Zero means
	// the default of 64 MiB.
	MaxFileBytes int64

	// Attachable narrows the MIME allow-list to what the configured
	// model backend can attach. Nil accepts the whole allow-list.
	Attachable func(mime string) bool
}

const defaultMaxFileBytes = 64 << 20

// Normalizer turns file references into normalized in-memory files:
// content loaded, display name filled, MIME type resolved and checked
// against the allow-list.
type Normalizer struct {
	http       Downloader
	ftp        Downloader
	objects    store.ObjectStore
	maxBytes   int64
	attachable func(mime string) bool
}

// NewNormalizer creates a Normalizer. http is required; ftp and objects
// may be nil, in which case the corresponding sources are rejected.
func NewNormalizer(http Downloader, ftp Downloader, objects store.ObjectStore, opts Options) *Normalizer {
	maxBytes := opts.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxFileBytes
	}
	return &Normalizer{http: http, ftp: ftp, objects: objects, maxBytes: maxBytes, attachable: opts.Attachable}
}

// NormalizeAll normalizes every reference up front. Any unsupported
// file type fails the whole batch before a single model call is made.
func (n *Normalizer) NormalizeAll(ctx context.Context, refs []model.FileRef) ([]model.NormalizedFile, error) {
	out := make([]model.NormalizedFile, 0, len(refs))
	for i, ref := range refs {
		nf, err := n.Normalize(ctx, ref)
		if err != nil {
			return nil, eris.Wrapf(err, "fetcher: file %d", i)
		}
		out = append(out, nf)
	}
	return out, nil
}

// Normalize loads a single file reference and resolves its MIME type.
func (n *Normalizer) Normalize(ctx context.Context, ref model.FileRef) (model.NormalizedFile, error) {
	src := ref.Source
	if src == "" {
		src = inferSource(ref)
	}

	var (
		content []byte
		name    string
		err     error
	)
	switch src {
	case model.SourceInline:
		if len(ref.Data) == 0 {
			return model.NormalizedFile{}, eris.New("fetcher: inline file has no data")
		}
		content = ref.Data
		name = ref.DisplayName
	case model.SourceLocalPath:
		content, err = n.readLocal(ref.Path)
		name = filepath.Base(ref.Path)
	case model.SourceURL:
		content, err = n.download(ctx, ref.URL)
		name = path.Base(mustPath(ref.URL))
	case model.SourceObjectURI:
		content, err = n.readObject(ctx, ref.ObjectURI)
		name = path.Base(ref.ObjectURI)
	default:
		return model.NormalizedFile{}, eris.Errorf("fetcher: unknown file source %q", src)
	}
	if err != nil {
		return model.NormalizedFile{}, err
	}

	if ref.DisplayName != "" {
		name = ref.DisplayName
	}
	if name == "" || name == "." || name == "/" {
		name = "file"
	}

	mimeType := detectMIME(ref.MIMEType, content)
	if !MIMEAllowed(mimeType) || (n.attachable != nil && !n.attachable(mimeType)) {
		return model.NormalizedFile{}, &model.UnsupportedFileTypeError{
			MIMEType:  mimeType,
			FileName:  name,
			AllowList: n.allowList(),
		}
	}

	if strings.HasPrefix(mimeType, "text/") {
		content, err = decodeText(content, ref.MIMEType)
		if err != nil {
			return model.NormalizedFile{}, eris.Wrapf(err, "fetcher: decode %s", name)
		}
	}

	zap.L().Debug("fetcher: normalized file",
		zap.String("name", name),
		zap.String("mime", mimeType),
		zap.Int("bytes", len(content)),
	)

	return model.NormalizedFile{
		DisplayName: name,
		MIMEType:    mimeType,
		Content:     content,
	}, nil
}

// allowList is the table surfaced in rejection payloads, narrowed to
// the attachable gate when one is set.
func (n *Normalizer) allowList() []string {
	all := AllowedMIMETypes()
	if n.attachable == nil {
		return all
	}
	out := make([]string, 0, len(all))
	for _, m := range all {
		if n.attachable(m) {
			out = append(out, m)
		}
	}
	return out
}

// inferSource picks the source kind from whichever reference field is set.
func inferSource(ref model.FileRef) model.FileSource {
	switch {
	case len(ref.Data) > 0:
		return model.SourceInline
	case ref.URL != "":
		return model.SourceURL
	case ref.ObjectURI != "":
		return model.SourceObjectURI
	default:
		return model.SourceLocalPath
	}
}

func (n *Normalizer) readLocal(p string) ([]byte, error) {
	if p == "" {
		return nil, eris.New("fetcher: empty file path")
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: stat %s", p)
	}
	if info.Size() > n.maxBytes {
		return nil, eris.Errorf("fetcher: %s exceeds max file size (%d > %d bytes)", p, info.Size(), n.maxBytes)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", p)
	}
	return data, nil
}

func (n *Normalizer) download(ctx context.Context, rawURL string) ([]byte, error) {
	if rawURL == "" {
		return nil, eris.New("fetcher: empty url")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: parse url %s", rawURL)
	}

	var dl Downloader
	switch u.Scheme {
	case "http", "https":
		dl = n.http
	case "ftp":
		dl = n.ftp
	default:
		return nil, eris.Errorf("fetcher: unsupported url scheme %q", u.Scheme)
	}
	if dl == nil {
		return nil, eris.Errorf("fetcher: no downloader configured for scheme %q", u.Scheme)
	}

	body, err := dl.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	return n.readCapped(body, rawURL)
}

func (n *Normalizer) readObject(ctx context.Context, uri string) ([]byte, error) {
	if n.objects == nil {
		return nil, eris.New("fetcher: no object store configured")
	}
	key := uri
	if _, rest, found := strings.Cut(uri, "://"); found {
		key = rest
	}
	if key == "" {
		return nil, eris.New("fetcher: empty object uri")
	}
	data, err := n.objects.Get(ctx, key)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read object %s", key)
	}
	return data, nil
}

func (n *Normalizer) readCapped(r io.Reader, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, n.maxBytes+1))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", name)
	}
	if int64(len(data)) > n.maxBytes {
		return nil, eris.Errorf("fetcher: %s exceeds max file size (%d bytes)", name, n.maxBytes)
	}
	return data, nil
}

// decodeText converts text content to UTF-8 when the declared MIME type
// names a different charset.
func decodeText(content []byte, declared string) ([]byte, error) {
	if declared == "" {
		return content, nil
	}
	_, params, err := mime.ParseMediaType(declared)
	if err != nil {
		return content, nil
	}
	charset := strings.ToLower(params["charset"])
	if charset == "" || charset == "utf-8" || charset == "us-ascii" {
		return content, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "unknown charset %q", charset)
	}
	decoded, err := enc.NewDecoder().Bytes(content)
	if err != nil {
		return nil, eris.Wrapf(err, "decode charset %q", charset)
	}
	return decoded, nil
}

func mustPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}
