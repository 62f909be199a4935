// Package document reads and writes form trees in their wire form.
package document

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/atvirokodosprendimai/nestuniq/internal/core/domain"
)

var ErrInvalidDocument = errors.New("invalid form document")

//go:embed form.schema.json
var formSchema []byte

// ViolationError lists every schema error of a rejected document.
type ViolationError struct {
	Errors []string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidDocument, strings.Join(e.Errors, "; "))
}

func (e *ViolationError) Is(target error) bool {
	return target == ErrInvalidDocument
}

type Document struct {
	ID       string       `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string       `json:"name" yaml:"name"`
	Contents []ContentDoc `json:"contents,omitempty" yaml:"contents,omitempty"`
}

// ContentDoc holds exactly one of Section or Group.
type ContentDoc struct {
	ID      string      `json:"id,omitempty" yaml:"id,omitempty"`
	Section *SectionDoc `json:"section,omitempty" yaml:"section,omitempty"`
	Group   *GroupDoc   `json:"group,omitempty" yaml:"group,omitempty"`
}

type SectionDoc struct {
	ID     string     `json:"id,omitempty" yaml:"id,omitempty"`
	Name   string     `json:"name,omitempty" yaml:"name,omitempty"`
	Fields []FieldDoc `json:"fields,omitempty" yaml:"fields,omitempty"`
}

type GroupDoc struct {
	ID       string       `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string       `json:"name,omitempty" yaml:"name,omitempty"`
	Contents []ContentDoc `json:"contents,omitempty" yaml:"contents,omitempty"`
}

type FieldDoc struct {
	ID       string       `json:"id,omitempty" yaml:"id,omitempty"`
	Name     string       `json:"name" yaml:"name"`
	Label    string       `json:"label,omitempty" yaml:"label,omitempty"`
	Dataset  string       `json:"dataset" yaml:"dataset"`
	Destroy  bool         `json:"_destroy,omitempty" yaml:"_destroy,omitempty"`
	Contents []ContentDoc `json:"contents,omitempty" yaml:"contents,omitempty"`
}

var compiled = sync.OnceValues(func() (*santhosh.Schema, error) {
	compiler := santhosh.NewCompiler()
	compiler.Draft = santhosh.Draft7
	if err := compiler.AddResource("form.schema.json", bytes.NewReader(formSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("form.schema.json")
})

// Decode picks the format from the file name: .yaml and .yml are YAML,
// anything else is JSON.
func Decode(name string, data []byte) (Document, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return DecodeYAML(data)
	default:
		return DecodeJSON(data)
	}
}

// DecodeJSON checks data against the form schema and decodes it.
func DecodeJSON(data []byte) (Document, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := validate(v); err != nil {
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

// DecodeYAML converts YAML to JSON first so both formats pass the same
// schema.
func DecodeYAML(data []byte) (Document, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return DecodeJSON(raw)
}

func validate(v any) error {
	sch, err := compiled()
	if err != nil {
		return fmt.Errorf("compile form schema: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		var ve *santhosh.ValidationError
		if errors.As(err, &ve) {
			return &ViolationError{Errors: collectValidationErrors(ve)}
		}
		return &ViolationError{Errors: []string{err.Error()}}
	}
	return nil
}

func collectValidationErrors(ve *santhosh.ValidationError) []string {
	var msgs []string
	for _, cause := range ve.Causes {
		msgs = append(msgs, collectValidationErrors(cause)...)
	}
	if len(ve.Causes) == 0 {
		msgs = append(msgs, fmt.Sprintf("%s: %s", location(ve.InstanceLocation), ve.Message))
	}
	return msgs
}

func location(ptr string) string {
	if ptr == "" {
		return "/"
	}
	return ptr
}

// ToForm builds the domain tree. A section or group whose id was seen
// before is the same component, so one document can share a component
// between containers.
func (d Document) ToForm() *domain.Form {
	b := &formBuilder{components: make(map[string]domain.Component)}
	return &domain.Form{ID: d.ID, Name: d.Name, Contents: b.contents(d.Contents)}
}

type formBuilder struct {
	components map[string]domain.Component
}

func (b *formBuilder) contents(docs []ContentDoc) []*domain.Content {
	if len(docs) == 0 {
		return nil
	}
	out := make([]*domain.Content, 0, len(docs))
	for _, c := range docs {
		var comp domain.Component
		switch {
		case c.Section != nil:
			comp = b.section(*c.Section)
		case c.Group != nil:
			comp = b.group(*c.Group)
		default:
			continue
		}
		out = append(out, &domain.Content{ID: c.ID, Component: comp})
	}
	return out
}

func (b *formBuilder) section(doc SectionDoc) domain.Component {
	key := domain.ComponentSection + ":" + doc.ID
	if comp, ok := b.components[key]; ok && doc.ID != "" {
		return comp
	}
	s := &domain.Section{ID: doc.ID, Name: doc.Name}
	if doc.ID != "" {
		b.components[key] = s
	}
	for _, f := range doc.Fields {
		s.Fields = append(s.Fields, &domain.Field{
			ID:       f.ID,
			Name:     f.Name,
			Label:    f.Label,
			Dataset:  f.Dataset,
			Remove:   f.Destroy,
			Contents: b.contents(f.Contents),
		})
	}
	return s
}

func (b *formBuilder) group(doc GroupDoc) domain.Component {
	key := domain.ComponentGroup + ":" + doc.ID
	if comp, ok := b.components[key]; ok && doc.ID != "" {
		return comp
	}
	g := &domain.Group{ID: doc.ID, Name: doc.Name}
	if doc.ID != "" {
		b.components[key] = g
	}
	g.Contents = b.contents(doc.Contents)
	return g
}

// FromForm is the inverse of ToForm. A component met again is written as a
// bare id reference.
func FromForm(f *domain.Form) Document {
	if f == nil {
		return Document{}
	}
	w := &docWriter{seen: make(map[domain.Component]bool)}
	return Document{ID: f.ID, Name: f.Name, Contents: w.contents(f.Contents)}
}

type docWriter struct {
	seen map[domain.Component]bool
}

func (w *docWriter) contents(contents []*domain.Content) []ContentDoc {
	if len(contents) == 0 {
		return nil
	}
	out := make([]ContentDoc, 0, len(contents))
	for _, c := range contents {
		if c == nil || c.Component == nil {
			continue
		}
		repeated := w.seen[c.Component]
		w.seen[c.Component] = true

		doc := ContentDoc{ID: c.ID}
		switch comp := c.Component.(type) {
		case *domain.Section:
			doc.Section = &SectionDoc{ID: comp.ID}
			if !repeated {
				doc.Section.Name = comp.Name
				doc.Section.Fields = w.fields(comp.Fields)
			}
		case *domain.Group:
			doc.Group = &GroupDoc{ID: comp.ID}
			if !repeated {
				doc.Group.Name = comp.Name
				doc.Group.Contents = w.contents(comp.Contents)
			}
		default:
			continue
		}
		out = append(out, doc)
	}
	return out
}

func (w *docWriter) fields(fields []*domain.Field) []FieldDoc {
	if len(fields) == 0 {
		return nil
	}
	out := make([]FieldDoc, 0, len(fields))
	for _, f := range fields {
		if f == nil {
			continue
		}
		out = append(out, FieldDoc{
			ID:       f.ID,
			Name:     f.Name,
			Label:    f.Label,
			Dataset:  f.Dataset,
			Destroy:  f.Remove,
			Contents: w.contents(f.Contents),
		})
	}
	return out
}
