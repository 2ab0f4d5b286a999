// Package templates renders notification messages from a YAML template catalog.
package templates

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/triboar/guild-sync/internal/core/domain"
	"github.com/triboar/guild-sync/internal/core/ports"
)

//go:embed defaults.yaml
var defaultCatalog []byte

type fieldSpec struct {
	Name   string `yaml:"name"`
	Value  string `yaml:"value"`
	Inline bool   `yaml:"inline"`
}

type actionSpec struct {
	Label string `yaml:"label"`
	URL   string `yaml:"url"`
}

// messageSpec is one template as written in YAML. String fields are
// text/template sources evaluated against renderData.
type messageSpec struct {
	Title       string      `yaml:"title"`
	Description string      `yaml:"description"`
	Color       int         `yaml:"color"`
	Fields      []fieldSpec `yaml:"fields"`
	Footer      string      `yaml:"footer"`
	Action      *actionSpec `yaml:"action"`
}

type renderData struct {
	DaysRemaining  int
	MembershipName string
	Days           string // "day" or "days"
	CheckoutURL    string
}

type compiled struct {
	spec messageSpec
	tmpl *template.Template
}

// Options configure the catalog.
type Options struct {
	// Path optionally names a YAML file whose entries replace the built-in templates.
	Path           string
	CheckoutURL    string
	MembershipName string
}

// Catalog implements ports.MessageRenderer.
type Catalog struct {
	templates      map[domain.NotificationKind]compiled
	checkoutURL    string
	membershipName string
}

var _ ports.MessageRenderer = (*Catalog)(nil)

var kinds = []domain.NotificationKind{
	domain.NotifyConfirmation,
	domain.NotifyGraceReminder,
	domain.NotifyExpiration,
}

// NewCatalog loads the built-in templates, applies overrides from opts.Path
// and compiles everything up front.
func NewCatalog(opts Options) (*Catalog, error) {
	specs, err := parseSpecs(defaultCatalog)
	if err != nil {
		return nil, fmt.Errorf("templates: defaults: %w", err)
	}

	if opts.Path != "" {
		raw, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("templates: read %s: %w", opts.Path, err)
		}
		overrides, err := parseSpecs(raw)
		if err != nil {
			return nil, fmt.Errorf("templates: %s: %w", opts.Path, err)
		}
		for kind, spec := range overrides {
			specs[kind] = spec
		}
	}

	c := &Catalog{
		templates:      make(map[domain.NotificationKind]compiled, len(kinds)),
		checkoutURL:    opts.CheckoutURL,
		membershipName: opts.MembershipName,
	}
	for _, kind := range kinds {
		spec, ok := specs[kind]
		if !ok {
			return nil, fmt.Errorf("templates: no template for %q", kind)
		}
		tmpl, err := compile(kind, spec)
		if err != nil {
			return nil, fmt.Errorf("templates: %s: %w", kind, err)
		}
		c.templates[kind] = compiled{spec: spec, tmpl: tmpl}
	}
	return c, nil
}

// Render builds the message for kind from payload.
func (c *Catalog) Render(kind domain.NotificationKind, payload domain.NotificationPayload) (ports.Message, error) {
	t, ok := c.templates[kind]
	if !ok {
		return ports.Message{}, fmt.Errorf("templates: unknown notification kind %q", kind)
	}

	data := renderData{
		DaysRemaining:  payload.DaysRemaining,
		MembershipName: payload.MembershipName,
		Days:           "days",
		CheckoutURL:    c.checkoutURL,
	}
	if data.MembershipName == "" {
		data.MembershipName = c.membershipName
	}
	if payload.DaysRemaining == 1 {
		data.Days = "day"
	}

	r := &renderer{tmpl: t.tmpl, data: data}
	msg := ports.Message{
		Title:       r.exec("title"),
		Description: r.exec("description"),
		Color:       t.spec.Color,
		Footer:      r.exec("footer"),
	}
	for i, f := range t.spec.Fields {
		msg.Fields = append(msg.Fields, ports.EmbedField{
			Name:   r.exec(fmt.Sprintf("field%d.name", i)),
			Value:  r.exec(fmt.Sprintf("field%d.value", i)),
			Inline: f.Inline,
		})
	}
	if t.spec.Action != nil {
		msg.ActionLabel = r.exec("action.label")
		msg.ActionURL = r.exec("action.url")
	}
	if r.err != nil {
		return ports.Message{}, fmt.Errorf("templates: render %s: %w", kind, r.err)
	}
	return msg, nil
}

func parseSpecs(raw []byte) (map[domain.NotificationKind]messageSpec, error) {
	var specs map[domain.NotificationKind]messageSpec
	if err := yaml.Unmarshal(raw, &specs); err != nil {
		return nil, err
	}
	if specs == nil {
		specs = make(map[domain.NotificationKind]messageSpec)
	}
	for kind := range specs {
		if !slices.Contains(kinds, kind) {
			return nil, fmt.Errorf("unknown notification kind %q", kind)
		}
	}
	return specs, nil
}

// compile parses every string of spec into one template set, one named
// template per field.
func compile(kind domain.NotificationKind, spec messageSpec) (*template.Template, error) {
	root := template.New(string(kind)).Option("missingkey=error")
	add := func(name, src string) error {
		_, err := root.New(name).Parse(src)
		return err
	}

	sources := map[string]string{
		"title":       spec.Title,
		"description": spec.Description,
		"footer":      spec.Footer,
	}
	for i, f := range spec.Fields {
		sources[fmt.Sprintf("field%d.name", i)] = f.Name
		sources[fmt.Sprintf("field%d.value", i)] = f.Value
	}
	if spec.Action != nil {
		sources["action.label"] = spec.Action.Label
		sources["action.url"] = spec.Action.URL
	}
	for name, src := range sources {
		if err := add(name, src); err != nil {
			return nil, err
		}
	}
	return root, nil
}

type renderer struct {
	tmpl *template.Template
	data renderData
	err  error
}

func (r *renderer) exec(name string) string {
	if r.err != nil {
		return ""
	}
	var b strings.Builder
	if err := r.tmpl.ExecuteTemplate(&b, name, r.data); err != nil {
		r.err = err
		return ""
	}
	return b.String()
}
