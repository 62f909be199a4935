package usecase

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/atvirokodosprendimai/nestuniq/internal/core/domain"
	"github.com/atvirokodosprendimai/nestuniq/internal/core/ports"
	"github.com/atvirokodosprendimai/nestuniq/uniqueness"
)

const (
	KindDatasetColumn = "dataset_column"
	KindSectionLabel  = "section_label"

	columnTakenMessage = "is already used by another field of this dataset"
	labelTakenMessage  = "is already used in this section"
)

var (
	fieldName    = uniqueness.StringField("name", func(f *domain.Field) string { return f.Name })
	fieldLabel   = uniqueness.StringField("label", func(f *domain.Field) string { return f.Label })
	fieldDataset = uniqueness.StringField("dataset", func(f *domain.Field) string { return f.Dataset })
)

// FormService validates and stores form trees.
//
// Two rules apply to every form:
//   - a dataset column (field name, compared case-insensitively, scoped by
//     dataset) belongs to one field only, across the whole form tree and
//     every other saved form of the tenant;
//   - labels are unique inside one section.
type FormService struct {
	repo    ports.FormRepository
	index   ports.FieldIndex
	metrics ports.ValidationRecorder
	log     logrus.FieldLogger
}

func NewFormService(repo ports.FormRepository, index ports.FieldIndex, metrics ports.ValidationRecorder, logger logrus.FieldLogger) *FormService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FormService{repo: repo, index: index, metrics: metrics, log: logger}
}

// Validate runs both uniqueness rules and annotates the form in place.
func (s *FormService) Validate(ctx context.Context, tenantID string, form *domain.Form) (domain.Report, error) {
	if err := domain.ValidateIdent(tenantID); err != nil {
		return domain.Report{}, domain.ErrInvalidTenant
	}
	if form == nil {
		return domain.Report{}, domain.ErrInvalidForm
	}
	if err := form.Validate(); err != nil {
		return domain.Report{}, err
	}

	tree := sectionTree()
	branches, err := tree.Collect(ctx, form)
	if err != nil {
		return domain.Report{}, fmt.Errorf("collect sections: %w", err)
	}

	labelsOK := true
	for _, b := range branches {
		ok, err := uniqueness.ValidateNested(ctx, b.Component, labelled(b.Records), fieldLabel, uniqueness.Options[*domain.Field]{
			Message: labelTakenMessage,
			Logger:  s.log,
		})
		if err != nil {
			return domain.Report{}, fmt.Errorf("validate section labels: %w", err)
		}
		labelsOK = labelsOK && ok
	}

	var store uniqueness.Store
	if s.index != nil {
		store = s.index.Scoped(tenantID, form.ID)
	}
	columnsOK, err := uniqueness.ValidateTree(ctx, form, tree, fieldName, uniqueness.Options[*domain.Field]{
		Scope:           []uniqueness.Field[*domain.Field]{fieldDataset},
		CaseInsensitive: true,
		Message:         columnTakenMessage,
		Store:           store,
		Logger:          s.log,
	})
	if err != nil {
		return domain.Report{}, fmt.Errorf("validate dataset columns: %w", err)
	}

	report := buildReport(form)
	report.Valid = labelsOK && columnsOK
	s.observe(report, labelsOK, columnsOK)
	s.log.WithFields(logrus.Fields{
		"tenant":     tenantID,
		"form":       form.Name,
		"sections":   len(branches),
		"valid":      report.Valid,
		"violations": len(report.Violations),
	}).Debug("form validated")
	return report, nil
}

// Save validates the form and stores it when it holds no duplicates.
func (s *FormService) Save(ctx context.Context, tenantID string, form *domain.Form) (domain.Report, error) {
	report, err := s.Validate(ctx, tenantID, form)
	if err != nil {
		return domain.Report{}, err
	}
	if !report.Valid {
		return report, &domain.ErrUniquenessViolation{Report: report}
	}

	form.TenantID = tenantID
	if err := s.repo.Save(ctx, form); err != nil {
		return domain.Report{}, err
	}
	return report, nil
}

func (s *FormService) Get(ctx context.Context, tenantID, id string) (*domain.Form, error) {
	if err := domain.ValidateIdent(tenantID); err != nil {
		return nil, domain.ErrInvalidTenant
	}
	if err := domain.ValidateIdent(id); err != nil {
		return nil, domain.ErrNotFound
	}
	return s.repo.Get(ctx, tenantID, id)
}

func (s *FormService) observe(report domain.Report, labelsOK, columnsOK bool) {
	if s.metrics == nil {
		return
	}
	columns, labels := 0, 0
	for _, v := range report.Violations {
		switch v.Attribute {
		case fieldName.Name:
			columns++
		case fieldLabel.Name:
			labels++
		}
	}
	s.metrics.ObserveValidation(KindDatasetColumn, columnsOK)
	s.metrics.ObserveValidation(KindSectionLabel, labelsOK)
	s.metrics.ObserveDuplicates(KindDatasetColumn, columns)
	s.metrics.ObserveDuplicates(KindSectionLabel, labels)
}

func sectionTree() uniqueness.Tree[*domain.Section, *domain.Field] {
	return uniqueness.Tree[*domain.Section, *domain.Field]{
		Links: func(n uniqueness.Node) []uniqueness.Link {
			c, ok := n.(domain.Container)
			if !ok {
				return nil
			}
			contents := c.Links()
			links := make([]uniqueness.Link, 0, len(contents))
			for _, content := range contents {
				if content != nil {
					links = append(links, content)
				}
			}
			return links
		},
		Match: func(n uniqueness.Node) (*domain.Section, bool) {
			s, ok := n.(*domain.Section)
			return s, ok
		},
		Collection: func(s *domain.Section) []*domain.Field {
			return s.Fields
		},
	}
}

// labelled drops fields without a label, they fall back to the field name.
func labelled(fields []*domain.Field) []*domain.Field {
	out := make([]*domain.Field, 0, len(fields))
	for _, f := range fields {
		if f != nil && f.Label != "" {
			out = append(out, f)
		}
	}
	return out
}
