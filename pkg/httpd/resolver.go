package httpd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"unicode/utf8"
)

// MimeTypes maps file extensions to the content type served for them.
var MimeTypes = map[string]string{
	"html": "text/html",
	"ico":  "image/x-icon",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"py":   "text/html",
	"txt":  "text/plain",
}

// DirectoryMimeType is the content type of directory listings.
const DirectoryMimeType = "text/plain"

const scriptExtension = "py"

// ScriptRunner executes a script and returns its standard output.
// *cgi.Runner implements it.
type ScriptRunner interface {
	Run(ctx context.Context, script, target string) ([]byte, error)
}

// Resolver maps request targets to content under a fixed web root.
type Resolver struct {
	root    string
	scripts ScriptRunner
	logger  *log.Logger
}

type ResolverOption func(*Resolver)

// WithScriptRunner makes the resolver execute .py resources through sr and
// serve their output. Any such file under the web root can then be run by
// any client.
func WithScriptRunner(sr ScriptRunner) ResolverOption {
	return func(r *Resolver) {
		r.scripts = sr
	}
}

func WithResolverLogger(l *log.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// NewResolver returns a Resolver serving the directory root.
func NewResolver(root string, opts ...ResolverOption) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("web root %s: %w", root, err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("web root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("web root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("web root %s: not a directory", root)
	}

	r := &Resolver{root: abs}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Root returns the absolute web root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve returns the content and content type for the request target path.
func (r *Resolver) Resolve(ctx context.Context, path string) ([]byte, string, error) {
	name, err := r.locate(path)
	if err != nil {
		return nil, "", err
	}
	r.logf("%s", name)

	info, err := os.Stat(name)
	if err != nil {
		if notExist(err) {
			return nil, "", newError(NotFound, path, err)
		}
		return nil, "", fmt.Errorf("stat %s: %w", name, err)
	}

	if info.IsDir() {
		content, err := listDir(name)
		if err != nil {
			return nil, "", err
		}
		return content, DirectoryMimeType, nil
	}

	if !info.Mode().IsRegular() {
		return nil, "", newError(NotFound, path, errors.New("not a regular file"))
	}

	ext, ok := Extension(filepath.Base(name))
	if !ok {
		return nil, "", newError(UnknownType, path, nil)
	}
	mimeType, ok := MimeTypes[ext]
	if !ok {
		return nil, "", newError(UnknownType, path, nil)
	}

	switch {
	case isImage(mimeType):
		content, err := os.ReadFile(name)
		if err != nil {
			return nil, "", fmt.Errorf("reading %s: %w", name, err)
		}
		return content, mimeType, nil
	case ext == scriptExtension && r.scripts != nil:
		content, err := r.scripts.Run(ctx, name, path)
		if err != nil {
			return nil, "", err
		}
		if content == nil {
			content = []byte{}
		}
		return content, mimeType, nil
	default:
		content, err := readText(name)
		if err != nil {
			return nil, "", err
		}
		return content, mimeType, nil
	}
}

// locate joins path onto the web root and rejects anything that ends up
// outside of it, symlinks included.
func (r *Resolver) locate(path string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(path, "/"))
	name := filepath.Join(r.root, rel)
	if !within(r.root, name) {
		return "", newError(NotFound, path, errors.New("outside of web root"))
	}

	resolved, err := filepath.EvalSymlinks(name)
	if err != nil {
		if notExist(err) {
			return "", newError(NotFound, path, err)
		}
		return "", fmt.Errorf("resolving %s: %w", name, err)
	}
	if !within(r.root, resolved) {
		return "", newError(NotFound, path, errors.New("outside of web root"))
	}
	return name, nil
}

func (r *Resolver) logf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Printf(format, args...)
	} else {
		log.Printf(format, args...)
	}
}

// Extension returns the part of name after its first dot.
func Extension(name string) (string, bool) {
	i := strings.IndexByte(name, '.')
	if i < 0 {
		return "", false
	}
	return name[i+1:], true
}

func within(root, name string) bool {
	rel, err := filepath.Rel(root, name)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// notExist also covers lookups that cannot name a file at all, such as a
// path component that is a file or a name containing a NUL byte.
func notExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, syscall.ENOTDIR) ||
		errors.Is(err, syscall.EINVAL)
}

func isImage(mimeType string) bool {
	category, _, _ := strings.Cut(mimeType, "/")
	return category == "image"
}

// listDir returns the names in dir in the order the filesystem yields them,
// each followed by a newline.
func listDir(dir string) ([]byte, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dir, err)
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	content := []byte{}
	for _, n := range names {
		content = append(content, n...)
		content = append(content, '\n')
	}
	return content, nil
}

func readText(name string) ([]byte, error) {
	content, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("reading %s: not valid UTF-8 text", name)
	}
	return content, nil
}
