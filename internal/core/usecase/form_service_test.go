package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atvirokodosprendimai/nestuniq/internal/core/domain"
	"github.com/atvirokodosprendimai/nestuniq/uniqueness"
)

type stubFormRepo struct {
	saveFn func(ctx context.Context, form *domain.Form) error
	getFn  func(ctx context.Context, tenantID, id string) (*domain.Form, error)
}

func (s *stubFormRepo) Save(ctx context.Context, form *domain.Form) error {
	if s.saveFn != nil {
		return s.saveFn(ctx, form)
	}
	return nil
}

func (s *stubFormRepo) Get(ctx context.Context, tenantID, id string) (*domain.Form, error) {
	if s.getFn != nil {
		return s.getFn(ctx, tenantID, id)
	}
	return nil, domain.ErrNotFound
}

type stubIndex struct {
	tenantID, formID string
	exists           func(q uniqueness.Lookup) bool
}

func (s *stubIndex) Scoped(tenantID, formID string) uniqueness.Store {
	s.tenantID, s.formID = tenantID, formID
	return uniqueness.StoreFunc(func(_ context.Context, q uniqueness.Lookup) (bool, error) {
		if s.exists == nil {
			return false, nil
		}
		return s.exists(q), nil
	})
}

type stubRecorder struct {
	validations map[string][]bool
	duplicates  map[string]int
}

func newStubRecorder() *stubRecorder {
	return &stubRecorder{validations: map[string][]bool{}, duplicates: map[string]int{}}
}

func (r *stubRecorder) ObserveValidation(kind string, valid bool) {
	r.validations[kind] = append(r.validations[kind], valid)
}

func (r *stubRecorder) ObserveDuplicates(kind string, n int) {
	r.duplicates[kind] += n
}

func field(name, dataset string) *domain.Field {
	return &domain.Field{Name: name, Dataset: dataset}
}

func section(name string, fields ...*domain.Field) *domain.Content {
	return &domain.Content{Component: &domain.Section{Name: name, Fields: fields}}
}

func group(name string, contents ...*domain.Content) *domain.Content {
	return &domain.Content{Component: &domain.Group{Name: name, Contents: contents}}
}

func TestFormServiceValidateCleanForm(t *testing.T) {
	svc := NewFormService(&stubFormRepo{}, &stubIndex{}, nil, nil)
	form := &domain.Form{Name: "signup", Contents: []*domain.Content{
		section("contact", field("email", "people"), field("phone", "people")),
		section("company", field("email", "companies")),
	}}

	report, err := svc.Validate(context.Background(), "tenant-a", form)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Violations)
	assert.Empty(t, report.Base)
}

func TestFormServiceValidateDuplicateColumnAcrossTree(t *testing.T) {
	svc := NewFormService(&stubFormRepo{}, &stubIndex{}, nil, nil)
	nested := field("Email", "people")
	form := &domain.Form{Name: "signup", Contents: []*domain.Content{
		section("contact", field("email", "people")),
		group("more", section("extra", nested)),
	}}

	report, err := svc.Validate(context.Background(), "tenant-a", form)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, []string{"Fields not valid"}, report.Base)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, domain.Violation{
		Path:      "contents[1].group.contents[0].section.fields[0]",
		Attribute: "name",
		Messages:  []string{columnTakenMessage},
	}, report.Violations[0])
}

func TestFormServiceValidateFieldNestedSections(t *testing.T) {
	svc := NewFormService(&stubFormRepo{}, &stubIndex{}, nil, nil)
	repeating := field("address", "people")
	inner := field("address", "people")
	repeating.Contents = []*domain.Content{section("address parts", inner)}
	form := &domain.Form{Name: "signup", Contents: []*domain.Content{section("contact", repeating)}}

	report, err := svc.Validate(context.Background(), "tenant-a", form)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "contents[0].section.fields[0].contents[0].section.fields[0]", report.Violations[0].Path)
	assert.Equal(t, []string{columnTakenMessage}, inner.ValidationErrors().On("name"))
}

func TestFormServiceValidateSameColumnOtherDataset(t *testing.T) {
	svc := NewFormService(&stubFormRepo{}, &stubIndex{}, nil, nil)
	form := &domain.Form{Name: "signup", Contents: []*domain.Content{
		section("a", field("email", "people")),
		section("b", field("email", "leads")),
	}}

	report, err := svc.Validate(context.Background(), "tenant-a", form)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestFormServiceValidateDuplicateLabelsInSection(t *testing.T) {
	svc := NewFormService(&stubFormRepo{}, &stubIndex{}, nil, nil)
	first := &domain.Field{Name: "email", Dataset: "people", Label: "Contact"}
	second := &domain.Field{Name: "phone", Dataset: "people", Label: "Contact"}
	other := &domain.Field{Name: "fax", Dataset: "people", Label: "Contact"}
	form := &domain.Form{Name: "signup", Contents: []*domain.Content{
		section("contact", first, second),
		section("legacy", other),
	}}

	report, err := svc.Validate(context.Background(), "tenant-a", form)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Empty(t, report.Base)
	assert.Equal(t, []domain.Violation{
		{Path: "contents[0].section", Attribute: uniqueness.Base, Messages: []string{"Fields not valid"}},
		{Path: "contents[0].section.fields[1]", Attribute: "label", Messages: []string{labelTakenMessage}},
	}, report.Violations)
}

func TestFormServiceValidatePersistedConflict(t *testing.T) {
	index := &stubIndex{exists: func(q uniqueness.Lookup) bool {
		return q.Attribute == "name" && q.Value == "email" && q.CaseInsensitive &&
			len(q.Scope) == 1 && q.Scope[0] == uniqueness.Condition{Attribute: "dataset", Value: "people"}
	}}
	svc := NewFormService(&stubFormRepo{}, index, nil, nil)
	form := &domain.Form{ID: "form-1", Name: "signup", Contents: []*domain.Content{
		section("contact", field("email", "people"), field("email", "leads")),
	}}

	report, err := svc.Validate(context.Background(), "tenant-a", form)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.Violations, 1)
	assert.Equal(t, "contents[0].section.fields[0]", report.Violations[0].Path)
	assert.Equal(t, "tenant-a", index.tenantID)
	assert.Equal(t, "form-1", index.formID)
}

func TestFormServiceValidateIgnoresRemovedFields(t *testing.T) {
	svc := NewFormService(&stubFormRepo{}, &stubIndex{}, nil, nil)
	removed := field("email", "people")
	removed.Remove = true
	form := &domain.Form{Name: "signup", Contents: []*domain.Content{
		section("contact", removed, field("email", "people")),
	}}

	report, err := svc.Validate(context.Background(), "tenant-a", form)
	require.NoError(t, err)
	assert.True(t, report.Valid)
}

func TestFormServiceValidateRejectsBadInput(t *testing.T) {
	svc := NewFormService(&stubFormRepo{}, &stubIndex{}, nil, nil)

	_, err := svc.Validate(context.Background(), "bad tenant", &domain.Form{Name: "x"})
	require.ErrorIs(t, err, domain.ErrInvalidTenant)

	_, err = svc.Validate(context.Background(), "tenant-a", nil)
	require.ErrorIs(t, err, domain.ErrInvalidForm)

	_, err = svc.Validate(context.Background(), "tenant-a", &domain.Form{Name: "x", Contents: []*domain.Content{
		section("a", field("bad name", "people")),
	}})
	require.ErrorIs(t, err, domain.ErrInvalidName)
}

func TestFormServiceValidateRejectsCyclicForm(t *testing.T) {
	svc := NewFormService(&stubFormRepo{}, &stubIndex{}, nil, nil)
	loop := &domain.Group{Name: "loop"}
	loop.Contents = []*domain.Content{{Component: loop}}
	form := &domain.Form{Name: "x", Contents: []*domain.Content{{Component: loop}}}

	_, err := svc.Validate(context.Background(), "tenant-a", form)
	require.ErrorIs(t, err, uniqueness.ErrCyclicStructure)
}

func TestFormServiceValidateRejectsDeepForm(t *testing.T) {
	svc := NewFormService(&stubFormRepo{}, &stubIndex{}, nil, nil)
	contents := []*domain.Content{section("leaf", field("email", "people"))}
	for i := 0; i <= uniqueness.DefaultMaxDepth; i++ {
		contents = []*domain.Content{group("level", contents...)}
	}

	_, err := svc.Validate(context.Background(), "tenant-a", &domain.Form{Name: "x", Contents: contents})
	require.ErrorIs(t, err, uniqueness.ErrMaxDepthExceeded)
}

func TestFormServiceValidateSharedGroupsStayLinear(t *testing.T) {
	svc := NewFormService(&stubFormRepo{}, &stubIndex{}, nil, nil)
	next := &domain.Group{Name: "bottom", Contents: []*domain.Content{
		section("contact", field("email", "people"), field("EMAIL", "people")),
	}}
	for i := 0; i < 40; i++ {
		next = &domain.Group{Name: "level", Contents: []*domain.Content{{Component: next}, {Component: next}}}
	}
	form := &domain.Form{Name: "x", Contents: []*domain.Content{{Component: next}}}

	start := time.Now()
	report, err := svc.Validate(context.Background(), "tenant-a", form)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, report.Valid)
	require.Len(t, report.Violations, 1)
}

func TestFormServiceSaveRejectsDuplicates(t *testing.T) {
	saved := false
	svc := NewFormService(&stubFormRepo{saveFn: func(context.Context, *domain.Form) error {
		saved = true
		return nil
	}}, &stubIndex{}, nil, nil)
	form := &domain.Form{Name: "signup", Contents: []*domain.Content{
		section("contact", field("email", "people"), field("email", "people")),
	}}

	report, err := svc.Save(context.Background(), "tenant-a", form)
	var violation *domain.ErrUniquenessViolation
	require.True(t, errors.As(err, &violation))
	assert.False(t, report.Valid)
	assert.Equal(t, report, violation.Report)
	assert.False(t, saved)
}

func TestFormServiceSaveStoresValidForm(t *testing.T) {
	var got *domain.Form
	svc := NewFormService(&stubFormRepo{saveFn: func(_ context.Context, form *domain.Form) error {
		got = form
		return nil
	}}, &stubIndex{}, nil, nil)
	form := &domain.Form{Name: "signup", Contents: []*domain.Content{section("contact", field("email", "people"))}}

	report, err := svc.Save(context.Background(), "tenant-a", form)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	require.NotNil(t, got)
	assert.Equal(t, "tenant-a", got.TenantID)
}

func TestFormServiceRecordsMetrics(t *testing.T) {
	rec := newStubRecorder()
	svc := NewFormService(&stubFormRepo{}, &stubIndex{}, rec, nil)
	form := &domain.Form{Name: "signup", Contents: []*domain.Content{
		section("contact", field("email", "people"), field("EMAIL", "people"), field("email", "people")),
	}}

	_, err := svc.Validate(context.Background(), "tenant-a", form)
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, rec.validations[KindDatasetColumn])
	assert.Equal(t, []bool{true}, rec.validations[KindSectionLabel])
	assert.Equal(t, 2, rec.duplicates[KindDatasetColumn])
	assert.Equal(t, 0, rec.duplicates[KindSectionLabel])
}

func TestFormServiceGetValidatesIdentifiers(t *testing.T) {
	svc := NewFormService(&stubFormRepo{getFn: func(_ context.Context, tenantID, id string) (*domain.Form, error) {
		return &domain.Form{ID: id, TenantID: tenantID, Name: "signup"}, nil
	}}, nil, nil, nil)

	form, err := svc.Get(context.Background(), "tenant-a", "form-1")
	require.NoError(t, err)
	assert.Equal(t, "form-1", form.ID)

	_, err = svc.Get(context.Background(), "tenant-a", "")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
