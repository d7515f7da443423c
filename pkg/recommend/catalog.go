package recommend

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	serrors "github.com/exploopio/sentinel/pkg/errors"
	"github.com/exploopio/sentinel/pkg/locale"
	"github.com/exploopio/sentinel/pkg/model"
)

//go:embed templates.yaml
var defaultTemplates []byte

// Template is the canonical text of one recommendation type in one locale.
type Template struct {
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	Steps       []string       `yaml:"steps"`
	Priority    model.Priority `yaml:"priority"`
}

// catalogFile is the YAML layout of a template catalog.
type catalogFile struct {
	DefaultLocale string                                           `yaml:"default_locale"`
	Categories    map[model.Category]model.RecommendationType      `yaml:"categories"`
	Templates     map[string]map[model.RecommendationType]Template `yaml:"templates"`
}

// Catalog holds the category mapping and localized templates.
// Immutable after LoadCatalog.
type Catalog struct {
	defaultLocale string
	categories    map[model.Category]model.RecommendationType
	templates     map[string]map[model.RecommendationType]Template
}

// DefaultCatalog loads the embedded template catalog.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog(defaultTemplates)
}

// LoadCatalog parses and validates a YAML catalog.
func LoadCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, serrors.E(serrors.KindInvalidInput, "recommend.LoadCatalog", "parse templates", err)
	}
	if f.DefaultLocale == "" {
		f.DefaultLocale = locale.Default
	}
	c := &Catalog{
		defaultLocale: f.DefaultLocale,
		categories:    f.Categories,
		templates:     f.Templates,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the mapping is exhaustive: every category maps to a known
// type and the default locale defines a complete template for every type.
// A gap is reported as KindUnknownCategory so it surfaces at load time
// rather than mid-pass.
func (c *Catalog) Validate() error {
	const op = "recommend.Catalog.Validate"

	known := map[model.RecommendationType]bool{}
	for _, t := range model.AllRecommendationTypes() {
		known[t] = true
	}

	for _, cat := range model.AllCategories() {
		t, ok := c.categories[cat]
		if !ok {
			return serrors.E(serrors.KindUnknownCategory, op, fmt.Sprintf("category %s has no recommendation type", cat))
		}
		if !known[t] {
			return serrors.E(serrors.KindUnknownCategory, op, fmt.Sprintf("category %s maps to unknown type %q", cat, t))
		}
	}
	for cat := range c.categories {
		if !cat.IsValid() {
			return serrors.E(serrors.KindUnknownCategory, op, fmt.Sprintf("mapping for unknown category %q", cat))
		}
	}

	defaults, ok := c.templates[c.defaultLocale]
	if !ok {
		return serrors.E(serrors.KindUnknownCategory, op, fmt.Sprintf("default locale %q has no templates", c.defaultLocale))
	}
	for _, t := range model.AllRecommendationTypes() {
		tpl, ok := defaults[t]
		if !ok {
			return serrors.E(serrors.KindUnknownCategory, op, fmt.Sprintf("default locale lacks %s template", t))
		}
		if tpl.Title == "" || len(tpl.Steps) == 0 {
			return serrors.E(serrors.KindInvalidInput, op, fmt.Sprintf("%s/%s template has no title or steps", c.defaultLocale, t))
		}
	}

	for loc, byType := range c.templates {
		for t, tpl := range byType {
			if !known[t] {
				return serrors.E(serrors.KindInvalidInput, op, fmt.Sprintf("%s: unknown template type %q", loc, t))
			}
			if tpl.Title == "" || len(tpl.Steps) == 0 {
				return serrors.E(serrors.KindInvalidInput, op, fmt.Sprintf("%s/%s template has no title or steps", loc, t))
			}
		}
	}
	return nil
}

// DefaultLocale returns the fallback locale.
func (c *Catalog) DefaultLocale() string {
	return c.defaultLocale
}

// TypeFor returns the recommendation type for a category.
func (c *Catalog) TypeFor(cat model.Category) (model.RecommendationType, bool) {
	t, ok := c.categories[cat]
	return t, ok
}

// Lookup returns the template for (t, loc), falling back to the default
// locale. The second value is the locale the template came from.
func (c *Catalog) Lookup(t model.RecommendationType, loc string) (Template, string, bool) {
	if byType, ok := c.templates[loc]; ok {
		if tpl, ok := byType[t]; ok {
			return tpl, loc, true
		}
	}
	tpl, ok := c.templates[c.defaultLocale][t]
	return tpl, c.defaultLocale, ok
}

// Locales returns the sorted locales that define at least one template.
func (c *Catalog) Locales() []string {
	out := make([]string, 0, len(c.templates))
	for loc := range c.templates {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}
