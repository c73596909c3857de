// Package templates resolves and renders instrumentation templates.
//
// A template library is a directory tree laid out as
//
//	{language}/{template}/*.tmpl
//	common/{template}/*.tmpl
//
// Each *.tmpl file produces one output file whose name is the file name
// without the extension, itself interpolated.
package templates

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/odvcencio/autopilot/pkg/convention"
	apierrors "github.com/odvcencio/autopilot/pkg/errors"
	"github.com/odvcencio/autopilot/pkg/logging"
)

const (
	templateExt    = ".tmpl"
	commonDir      = "common"
	defaultCacheSz = 128
)

//go:embed library
var libraryFS embed.FS

// Embedded returns the template library compiled into the binary.
func Embedded() fs.FS {
	sub, err := fs.Sub(libraryFS, "library")
	if err != nil {
		panic(err)
	}
	return sub
}

// Dir returns a library rooted at a directory on disk.
func Dir(root string) fs.FS {
	return os.DirFS(root)
}

// Context is what rendering needs from a template context.
type Context interface {
	Variables() map[string]any
	Language() convention.Language
	Names() convention.Names
}

// File is one template file body.
type File struct {
	Name string
	Body string
}

// Template is a resolved template directory, or a built-in when Builtin is
// set and Dir is empty.
type Template struct {
	Name    string
	Dir     string
	Files   []File
	Builtin bool
}

// Rendered is one generated output file.
type Rendered struct {
	Path    string
	Content string
}

// Store resolves templates from a library and caches the resolved bodies.
type Store struct {
	root   fs.FS
	cache  *lru.Cache[string, *Template]
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store) error

// WithCacheSize bounds the number of resolved templates kept in memory.
func WithCacheSize(n int) Option {
	return func(s *Store) error {
		if n <= 0 {
			n = defaultCacheSz
		}
		cache, err := lru.New[string, *Template](n)
		if err != nil {
			return err
		}
		s.cache = cache
		return nil
	}
}

// WithLogger sets the logger used for resolution diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) error {
		s.logger = logging.ForCategory(l, logging.CategoryRender)
		return nil
	}
}

// NewStore creates a store over root.
func NewStore(root fs.FS, opts ...Option) (*Store, error) {
	if root == nil {
		return nil, apierrors.New(apierrors.ErrCodeInvalidInput, "template root is nil")
	}
	s := &Store{root: root, logger: logging.Nop()}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrCodeInternal, "configure template store")
		}
	}
	if s.cache == nil {
		if err := WithCacheSize(defaultCacheSz)(s); err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrCodeInternal, "configure template store")
		}
	}
	return s, nil
}

// Resolve finds a template directory by name. Lookup order:
//  1. {lang}/{base} where name is "{base}-{lang}" split on the last hyphen
//  2. any language directory holding a directory named exactly name
//  3. common/{name}
//  4. a built-in template of that name
func (s *Store) Resolve(name string) (*Template, error) {
	if cached, ok := s.cache.Get(name); ok {
		return cached, nil
	}
	if !validName(name) {
		return nil, notFound(name)
	}

	var tmpl *Template
	if dir, ok := s.find(name); ok {
		loaded, err := s.load(name, dir)
		if err != nil {
			return nil, err
		}
		tmpl = loaded
	} else if builtin, ok := builtinTemplate(name); ok {
		tmpl = builtin
	} else {
		return nil, notFound(name)
	}

	// First resolution wins so concurrent callers share one value.
	if found, _ := s.cache.ContainsOrAdd(name, tmpl); found {
		if cached, ok := s.cache.Get(name); ok {
			return cached, nil
		}
	}
	s.logger.Debug("template resolved",
		zap.String("template", name),
		zap.String("dir", tmpl.Dir),
		zap.Bool("builtin", tmpl.Builtin),
		zap.Int("files", len(tmpl.Files)))
	return tmpl, nil
}

// Render resolves name and renders every file against ctx.
func (s *Store) Render(name string, ctx Context) ([]Rendered, error) {
	tmpl, err := s.Resolve(name)
	if err != nil {
		return nil, err
	}

	if tmpl.Builtin {
		return renderBuiltinTemplate(tmpl, ctx)
	}

	vars := ctx.Variables()
	out := make([]Rendered, 0, len(tmpl.Files))
	index := make(map[string]int, len(tmpl.Files))
	for _, f := range tmpl.Files {
		outName := Interpolate(strings.TrimSuffix(f.Name, templateExt), vars)
		p := OutputPath(name, outName, ctx.Language(), ctx.Names())
		r := Rendered{Path: p, Content: Interpolate(f.Body, vars)}
		if i, dup := index[p]; dup {
			out[i] = r
			continue
		}
		index[p] = len(out)
		out = append(out, r)
	}
	return out, nil
}

// List returns the names every template in the library resolves under:
// "{template}-{language}" for language directories and the bare name for
// common templates.
func (s *Store) List() ([]string, error) {
	langs, err := fs.ReadDir(s.root, ".")
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeStorageRead, "read template library")
	}
	var names []string
	for _, lang := range langs {
		if !lang.IsDir() {
			continue
		}
		entries, err := fs.ReadDir(s.root, lang.Name())
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if lang.Name() == commonDir {
				names = append(names, e.Name())
			} else {
				names = append(names, e.Name()+"-"+lang.Name())
			}
		}
	}
	return names, nil
}

func (s *Store) find(name string) (string, bool) {
	if i := strings.LastIndex(name, "-"); i > 0 && i < len(name)-1 {
		base, lang := name[:i], name[i+1:]
		candidate := path.Join(lang, base)
		if s.isDir(candidate) {
			return candidate, true
		}
	}

	if langs, err := fs.ReadDir(s.root, "."); err == nil {
		for _, lang := range langs {
			if !lang.IsDir() {
				continue
			}
			candidate := path.Join(lang.Name(), name)
			if s.isDir(candidate) {
				return candidate, true
			}
		}
	}

	candidate := path.Join(commonDir, name)
	if s.isDir(candidate) {
		return candidate, true
	}
	return "", false
}

func (s *Store) isDir(p string) bool {
	info, err := fs.Stat(s.root, p)
	return err == nil && info.IsDir()
}

func (s *Store) load(name, dir string) (*Template, error) {
	entries, err := fs.ReadDir(s.root, dir)
	if err != nil {
		return nil, apierrors.Wrap(err, apierrors.ErrCodeTemplateRender, "read template directory").
			WithContext("template", name)
	}

	tmpl := &Template{Name: name, Dir: dir}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), templateExt) {
			continue
		}
		body, err := fs.ReadFile(s.root, path.Join(dir, e.Name()))
		if err != nil {
			return nil, apierrors.Wrap(err, apierrors.ErrCodeTemplateRender, "read template file").
				WithContext("template", name).
				WithContext("file", e.Name())
		}
		tmpl.Files = append(tmpl.Files, File{Name: e.Name(), Body: string(body)})
	}
	return tmpl, nil
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

func notFound(name string) error {
	return apierrors.New(apierrors.ErrCodeTemplateNotFound, "template not found: "+name).
		WithContext("template", name)
}

// OutputPath maps a rendered file name to its location in the target
// repository. Source files go under the language source root; YAML goes to
// lineage/, contracts/ or src/main/resources/ by template name; everything
// else (pom.xml, go.mod, ...) stays at the repository root.
func OutputPath(templateName, outputName string, lang convention.Language, names convention.Names) string {
	switch path.Ext(outputName) {
	case ".java", ".py", ".go":
		return convention.For(lang).SourceRoot(names) + "/" + outputName
	case ".yaml", ".yml":
		switch {
		case strings.Contains(templateName, "lineage"):
			return "lineage/" + outputName
		case strings.Contains(templateName, "contract"):
			return "contracts/" + outputName
		default:
			return "src/main/resources/" + outputName
		}
	default:
		return outputName
	}
}
