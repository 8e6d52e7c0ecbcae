// Package content resolves the pages shown to approved visitors.
//
// The catalog is read from a YAML file:
//
//	pages:
//	  - id: welcome
//	    name: Welcome
//	    default: true
//	    content: |
//	      <h1>Welcome</h1>
//
// Refs are opaque to the rest of the system. When the file is missing or
// empty a built-in welcome page is seeded and used as the default.
package content

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/cuemby/lobby/pkg/types"
	"gopkg.in/yaml.v3"
)

// DefaultPageID is the id of the built-in page
const DefaultPageID = "welcome"

const defaultPageContent = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Welcome</title></head>
<body><h1>Welcome</h1><p>Your access has been approved.</p></body></html>
`

// ErrNotFound is returned for an unknown content ref
var ErrNotFound = errors.New("page not found")

type catalogFile struct {
	Pages []*types.Page `yaml:"pages"`
}

// Catalog is an immutable in-memory page set
type Catalog struct {
	pages     map[string]*types.Page
	defaultID string
}

// NewCatalog creates a catalog from pages. The first page marked default
// wins; otherwise the first page is the default. An empty list seeds the
// built-in page.
func NewCatalog(pages []*types.Page) (*Catalog, error) {
	c := &Catalog{pages: make(map[string]*types.Page)}
	if len(pages) == 0 {
		pages = []*types.Page{defaultPage()}
	}

	for _, p := range pages {
		if p == nil || p.ID == "" {
			return nil, errors.New("page id is required")
		}
		if _, dup := c.pages[p.ID]; dup {
			return nil, fmt.Errorf("duplicate page id %q", p.ID)
		}
		page := *p
		if page.Name == "" {
			page.Name = page.ID
		}
		page.IsDefault = false
		c.pages[page.ID] = &page

		if p.IsDefault && c.defaultID == "" {
			c.defaultID = page.ID
		}
	}
	if c.defaultID == "" {
		c.defaultID = pages[0].ID
	}
	c.pages[c.defaultID].IsDefault = true

	return c, nil
}

// LoadFile reads a catalog file. An empty path or a missing file yields the
// built-in catalog.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewCatalog(nil)
		}
		return nil, fmt.Errorf("failed to read content file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse content file: %w", err)
	}
	return NewCatalog(file.Pages)
}

func defaultPage() *types.Page {
	return &types.Page{
		ID:        DefaultPageID,
		Name:      "Welcome",
		Content:   defaultPageContent,
		IsDefault: true,
	}
}

// ResolveDefault returns the ref of the default page
func (c *Catalog) ResolveDefault() string {
	return c.defaultID
}

// Resolve returns the content for ref
func (c *Catalog) Resolve(ref string) (string, error) {

	page, ok := c.pages[ref]
	if !ok {
		return "", fmt.Errorf("page %q: %w", ref, ErrNotFound)
	}
	return page.Content, nil
}

// Has reports whether ref names a page
func (c *Catalog) Has(ref string) bool {
	_, ok := c.pages[ref]
	return ok
}

// List returns page summaries without content, default page first
func (c *Catalog) List() []*types.Page {

	out := make([]*types.Page, 0, len(c.pages))
	for _, p := range c.pages {
		out = append(out, &types.Page{ID: p.ID, Name: p.Name, IsDefault: p.IsDefault})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].ID < out[j].ID
	})
	return out
}
