package httpd

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
)

var (
	pageBody  = []byte("<html><h1>North Carolina</h1></html>\n")
	textBody  = []byte("sample text\n")
	pngBody   = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0x00, 0xff, 0xfe}
	jpgBody   = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10}
	scriptSrc = []byte("#!/bin/sh\necho '<html>script output</html>'\n")
)

// newWebRoot lays out a web root inside a temporary directory and returns
// the web root path. A file named secret.txt is placed next to it.
func newWebRoot(t *testing.T) string {
	t.Helper()
	parent := t.TempDir()
	root := filepath.Join(parent, "webroot")

	files := map[string][]byte{
		"a_web_page.html":      pageBody,
		"sample.txt":           textBody,
		"make_time.py":         scriptSrc,
		"favicon.ico":          pngBody,
		"images/sample_1.png":  pngBody,
		"images/photo.jpg":     jpgBody,
		"README":               []byte("no extension\n"),
		"archive.tar.gz":       []byte("nope"),
		"binary.txt":           {0xff, 0xfe, 0xfd},
		"../secret.txt":        []byte("top secret\n"),
		"empty/.placeholder.x": nil,
	}
	for name, body := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, body, 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Remove(filepath.Join(root, "empty", ".placeholder.x")); err != nil {
		t.Fatal(err)
	}
	return root
}

func newTestResolver(t *testing.T, root string, opts ...ResolverOption) *Resolver {
	t.Helper()
	opts = append([]ResolverOption{WithResolverLogger(log.New(io.Discard, "", 0))}, opts...)
	r, err := NewResolver(root, opts...)
	if err != nil {
		t.Fatalf("error while creating resolver: %s", err)
	}
	return r
}

func TestResolveFiles(t *testing.T) {
	r := newTestResolver(t, newWebRoot(t))

	type test struct {
		Name             string
		Path             string
		ExpectedMimeType string
		ExpectedBody     []byte
	}

	tt := []test{
		{Name: "HTML page", Path: "/a_web_page.html", ExpectedMimeType: "text/html", ExpectedBody: pageBody},
		{Name: "Text file", Path: "/sample.txt", ExpectedMimeType: "text/plain", ExpectedBody: textBody},
		{Name: "PNG image", Path: "/images/sample_1.png", ExpectedMimeType: "image/png", ExpectedBody: pngBody},
		{Name: "JPEG image", Path: "/images/photo.jpg", ExpectedMimeType: "image/jpeg", ExpectedBody: jpgBody},
		{Name: "Icon", Path: "/favicon.ico", ExpectedMimeType: "image/x-icon", ExpectedBody: pngBody},
		{Name: "Script served as text", Path: "/make_time.py", ExpectedMimeType: "text/html", ExpectedBody: scriptSrc},
		{Name: "Dot segments inside the root", Path: "/images/../sample.txt", ExpectedMimeType: "text/plain", ExpectedBody: textBody},
	}

	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			body, mimeType, err := r.Resolve(context.Background(), tc.Path)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if mimeType != tc.ExpectedMimeType {
				t.Fatalf("wrong mime type - expected: %s\treceived: %s", tc.ExpectedMimeType, mimeType)
			}
			if subtle.ConstantTimeCompare(body, tc.ExpectedBody) != 1 {
				t.Fatalf("wrong body - expected: %q\treceived: %q", tc.ExpectedBody, body)
			}
		})
	}
}

func TestResolveDirectory(t *testing.T) {
	r := newTestResolver(t, newWebRoot(t))

	type test struct {
		Name     string
		Path     string
		Expected []string
	}

	tt := []test{
		{
			Name: "Root",
			Path: "/",
			Expected: []string{
				"README", "a_web_page.html", "archive.tar.gz", "binary.txt", "empty",
				"favicon.ico", "images", "make_time.py", "sample.txt",
			},
		},
		{Name: "Root without slash", Path: "", Expected: []string{
			"README", "a_web_page.html", "archive.tar.gz", "binary.txt", "empty",
			"favicon.ico", "images", "make_time.py", "sample.txt",
		}},
		{Name: "Subdirectory", Path: "/images", Expected: []string{"photo.jpg", "sample_1.png"}},
		{Name: "Subdirectory trailing slash", Path: "/images/", Expected: []string{"photo.jpg", "sample_1.png"}},
		{Name: "Empty directory", Path: "/empty", Expected: nil},
	}

	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			body, mimeType, err := r.Resolve(context.Background(), tc.Path)
			if err != nil {
				t.Fatalf("unexpected error: %s", err)
			}
			if mimeType != "text/plain" {
				t.Fatalf("wrong mime type - expected: text/plain\treceived: %s", mimeType)
			}
			if body == nil {
				t.Fatal("listing should never be nil")
			}
			if len(body) > 0 && !bytes.HasSuffix(body, []byte("\n")) {
				t.Fatalf("listing should end with a newline: %q", body)
			}

			var got []string
			if len(body) > 0 {
				got = strings.Split(strings.TrimSuffix(string(body), "\n"), "\n")
			}
			sort.Strings(got)
			if strings.Join(got, ",") != strings.Join(tc.Expected, ",") {
				t.Fatalf("wrong listing - expected: %v\treceived: %v", tc.Expected, got)
			}
		})
	}
}

func TestResolveFailures(t *testing.T) {
	root := newWebRoot(t)
	if runtime.GOOS != "windows" {
		if err := os.Symlink(filepath.Join(root, "..", "secret.txt"), filepath.Join(root, "link.txt")); err != nil {
			t.Fatal(err)
		}
	}
	r := newTestResolver(t, root)

	type test struct {
		Name         string
		Path         string
		ExpectedKind Kind
	}

	tt := []test{
		{Name: "Missing file", Path: "/does_not_exist.html", ExpectedKind: NotFound},
		{Name: "Missing directory", Path: "/nope/", ExpectedKind: NotFound},
		{Name: "File used as directory", Path: "/sample.txt/x.html", ExpectedKind: NotFound},
		{Name: "Query string is part of the name", Path: "/sample.txt?x=1", ExpectedKind: NotFound},
		{Name: "No extension", Path: "/README", ExpectedKind: UnknownType},
		{Name: "Unknown extension", Path: "/archive.tar.gz", ExpectedKind: UnknownType},
		{Name: "Parent traversal", Path: "/../secret.txt", ExpectedKind: NotFound},
		{Name: "Nested traversal", Path: "/images/../../secret.txt", ExpectedKind: NotFound},
		{Name: "Absolute override", Path: "//etc/passwd", ExpectedKind: NotFound},
		{Name: "NUL byte", Path: "/a\x00.html", ExpectedKind: NotFound},
		{Name: "NUL byte in directory", Path: "/images\x00/sample_1.png", ExpectedKind: NotFound},
	}
	if runtime.GOOS != "windows" {
		tt = append(tt, test{Name: "Symlink out of root", Path: "/link.txt", ExpectedKind: NotFound})
	}

	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			_, _, err := r.Resolve(context.Background(), tc.Path)
			kind, ok := KindOf(err)
			if !ok || kind != tc.ExpectedKind {
				t.Fatalf("wrong error - expected: %v\treceived: %v", tc.ExpectedKind, err)
			}
		})
	}
}

func TestResolveInvalidText(t *testing.T) {
	r := newTestResolver(t, newWebRoot(t))

	_, _, err := r.Resolve(context.Background(), "/binary.txt")
	if err == nil {
		t.Fatal("expected an error for non UTF-8 text")
	}
	if _, ok := KindOf(err); ok {
		t.Fatalf("invalid text should not map to a response: %v", err)
	}
}

type fakeRunner struct {
	script string
	target string
	out    []byte
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, script, target string) ([]byte, error) {
	f.script = script
	f.target = target
	return f.out, f.err
}

func TestResolveScript(t *testing.T) {
	root := newWebRoot(t)
	runner := &fakeRunner{out: []byte("<html>12:00</html>")}
	r := newTestResolver(t, root, WithScriptRunner(runner))

	body, mimeType, err := r.Resolve(context.Background(), "/make_time.py")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if mimeType != "text/html" {
		t.Fatalf("wrong mime type - expected: text/html\treceived: %s", mimeType)
	}
	if string(body) != "<html>12:00</html>" {
		t.Fatalf("wrong body - expected: script output\treceived: %q", body)
	}
	if want := filepath.Join(r.Root(), "make_time.py"); runner.script != want {
		t.Fatalf("wrong script - expected: %s\treceived: %s", want, runner.script)
	}
	if runner.target != "/make_time.py" {
		t.Fatalf("wrong target - expected: /make_time.py\treceived: %s", runner.target)
	}

	// Non-script files never reach the runner.
	runner.script = ""
	if _, _, err := r.Resolve(context.Background(), "/sample.txt"); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if runner.script != "" {
		t.Fatalf("runner called for a text file: %s", runner.script)
	}

	// Empty output is an empty body, not a missing one.
	runner.out = nil
	body, _, err = r.Resolve(context.Background(), "/make_time.py")
	if err != nil || body == nil || len(body) != 0 {
		t.Fatalf("wrong body for empty output - received: %q (%v)", body, err)
	}

	runner.err = errors.New("exec failed")
	_, _, err = r.Resolve(context.Background(), "/make_time.py")
	if !errors.Is(err, runner.err) {
		t.Fatalf("wrong error - expected: %v\treceived: %v", runner.err, err)
	}
}

func TestNewResolverRejectsFiles(t *testing.T) {
	root := newWebRoot(t)
	if _, err := NewResolver(filepath.Join(root, "sample.txt")); err == nil {
		t.Fatal("expected an error for a file web root")
	}
	if _, err := NewResolver(filepath.Join(root, "missing")); err == nil {
		t.Fatal("expected an error for a missing web root")
	}
}

func TestExtension(t *testing.T) {
	type test struct {
		Name     string
		Expected string
		Ok       bool
	}

	tt := []test{
		{Name: "a.html", Expected: "html", Ok: true},
		{Name: "archive.tar.gz", Expected: "tar.gz", Ok: true},
		{Name: ".hidden", Expected: "hidden", Ok: true},
		{Name: "trailing.", Expected: "", Ok: true},
		{Name: "README", Expected: "", Ok: false},
	}

	for _, tc := range tt {
		ext, ok := Extension(tc.Name)
		if ext != tc.Expected || ok != tc.Ok {
			t.Fatalf("wrong extension for %s - expected: %q %t\treceived: %q %t", tc.Name, tc.Expected, tc.Ok, ext, ok)
		}
	}
}
