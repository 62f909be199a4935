package usecase

import (
	"fmt"

	"github.com/atvirokodosprendimai/nestuniq/internal/core/domain"
	"github.com/atvirokodosprendimai/nestuniq/uniqueness"
)

type reportBuilder struct {
	report domain.Report
	seen   map[domain.Component]bool
}

// buildReport lists the errors of every section and field with its path in
// the form document, e.g. contents[0].section.fields[2].
func buildReport(form *domain.Form) domain.Report {
	b := &reportBuilder{seen: make(map[domain.Component]bool)}
	b.report.Base = form.ValidationErrors().Base()
	b.contents("contents", form.Contents)
	return b.report
}

func (b *reportBuilder) contents(prefix string, contents []*domain.Content) {
	for i, c := range contents {
		if c == nil || c.Component == nil || b.seen[c.Component] {
			continue
		}
		b.seen[c.Component] = true
		path := fmt.Sprintf("%s[%d]", prefix, i)

		switch comp := c.Component.(type) {
		case *domain.Section:
			path += ".section"
			b.add(path, comp.ValidationErrors())
			for j, f := range comp.Fields {
				if f == nil {
					continue
				}
				fieldPath := fmt.Sprintf("%s.fields[%d]", path, j)
				b.add(fieldPath, f.ValidationErrors())
				b.contents(fieldPath+".contents", f.Contents)
			}
		case *domain.Group:
			b.contents(path+".group.contents", comp.Contents)
		}
	}
}

func (b *reportBuilder) add(path string, errs *uniqueness.Errors) {
	for _, attr := range errs.Attributes() {
		b.report.Violations = append(b.report.Violations, domain.Violation{
			Path:      path,
			Attribute: attr,
			Messages:  errs.On(attr),
		})
	}
}
