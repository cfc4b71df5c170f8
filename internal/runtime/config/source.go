// Package config resolves the connection parameters a bootstrap needs from a
// hierarchical configuration document.
//
// Documents may be XML, YAML or TOML. Whatever the syntax, lookups address
// them the same way: an absolute slash separated path below a configuration
// context, for example "/config/opensrf" + "/domains/domain".
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	srferrors "github.com/drblury/srfbus/internal/runtime/errors"
)

// Source is a hierarchical key/value lookup rooted at a configuration
// context. Lookups fail with an error wrapping errors.ErrKeyNotFound when the
// key is absent.
type Source interface {
	Parse(path string) error
	GetString(path string) (string, error)
	GetInt(path string) (int, error)
	// GetFirst returns the first matching value in document order.
	GetFirst(path string) (string, error)
}

// Format names a supported document syntax.
type Format string

const (
	FormatXML  Format = "xml"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ErrNotParsed is returned by lookups on a Document that has not been parsed.
var ErrNotParsed = errors.New("srfbus: configuration document not parsed")

// FormatFromPath picks a Format from a file extension. Anything that is not
// YAML or TOML is read as XML.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatXML
	}
}

// Document is a Source backed by an etree element tree. YAML and TOML input
// is projected onto the same tree so all formats share one query engine.
type Document struct {
	context string
	path    string
	doc     *etree.Document
}

var _ Source = (*Document)(nil)

// NewDocument returns an empty Document whose lookups are resolved below
// configContext.
func NewDocument(configContext string) *Document {
	return &Document{context: normalizeContext(configContext)}
}

// Context returns the normalised configuration context.
func (d *Document) Context() string { return d.context }

// Path returns the file the document was parsed from, if any.
func (d *Document) Path() string { return d.path }

// Parse reads the file at path. ${VAR} references in element text are
// expanded from the environment after decoding.
func (d *Document) Parse(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return &srferrors.ConfigError{Path: path, Err: err}
	}
	d.path = path
	return d.ParseBytes(data, FormatFromPath(path))
}

// ParseBytes decodes data in the given format, replacing any previously
// parsed content. Only the braced ${VAR} form is expanded; any other '$' is
// kept as written.
func (d *Document) ParseBytes(data []byte, format Format) error {
	var (
		doc *etree.Document
		err error
	)
	switch format {
	case FormatYAML:
		doc, err = projectYAML(data)
	case FormatTOML:
		doc, err = projectTOML(data)
	case FormatXML, "":
		doc = etree.NewDocument()
		err = doc.ReadFromBytes(data)
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return &srferrors.ConfigError{Path: d.path, Err: err}
	}
	expandElements(doc.Root())
	d.doc = doc
	return nil
}

func expandElements(elem *etree.Element) {
	if elem == nil {
		return
	}
	if text := elem.Text(); strings.Contains(text, "${") {
		elem.SetText(expandBraced(text))
	}
	for _, child := range elem.ChildElements() {
		expandElements(child)
	}
}

// expandBraced replaces ${NAME} with the value of the environment variable
// NAME, empty when unset. Text that is not a complete ${NAME} reference is
// left untouched.
func expandBraced(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			return b.String()
		}
		end := strings.IndexByte(s[start+2:], '}')
		if end < 0 {
			b.WriteString(s)
			return b.String()
		}
		name := s[start+2 : start+2+end]
		b.WriteString(s[:start])
		if isEnvName(name) {
			b.WriteString(os.Getenv(name))
		} else {
			b.WriteString(s[start : start+3+end])
		}
		s = s[start+3+end:]
	}
}

func isEnvName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// GetString returns the trimmed text of the first element at path.
func (d *Document) GetString(path string) (string, error) {
	elems, err := d.find(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(elems[0].Text()), nil
}

// GetInt returns the value at path parsed as a base 10 integer.
func (d *Document) GetInt(path string) (int, error) {
	raw, err := d.GetString(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &srferrors.ConfigError{
			Path: d.path,
			Key:  d.key(path),
			Err:  fmt.Errorf("%w: %q is not an integer", srferrors.ErrInvalidValue, raw),
		}
	}
	return n, nil
}

// GetFirst returns the first value at path in document order. For a single
// valued key it behaves like GetString.
func (d *Document) GetFirst(path string) (string, error) {
	return d.GetString(path)
}

// GetAll returns every value at path in document order.
func (d *Document) GetAll(path string) ([]string, error) {
	elems, err := d.find(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(elems))
	for _, el := range elems {
		out = append(out, strings.TrimSpace(el.Text()))
	}
	return out, nil
}

func (d *Document) find(path string) ([]*etree.Element, error) {
	key := d.key(path)
	if d.doc == nil {
		return nil, &srferrors.ConfigError{Path: d.path, Key: key, Err: ErrNotParsed}
	}
	compiled, err := etree.CompilePath(key)
	if err != nil {
		return nil, &srferrors.ConfigError{
			Path: d.path,
			Key:  key,
			Err:  fmt.Errorf("%w: %v", srferrors.ErrInvalidValue, err),
		}
	}
	elems := d.doc.FindElementsPath(compiled)
	if len(elems) == 0 {
		return nil, &srferrors.ConfigError{Path: d.path, Key: key, Err: srferrors.ErrKeyNotFound}
	}
	return elems, nil
}

func (d *Document) key(path string) string {
	return d.context + "/" + strings.Trim(path, "/")
}

func normalizeContext(configContext string) string {
	trimmed := strings.Trim(strings.TrimSpace(configContext), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}
