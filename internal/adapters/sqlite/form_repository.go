package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/atvirokodosprendimai/nestuniq/internal/adapters/sqlite/gormsqlite"
	"github.com/atvirokodosprendimai/nestuniq/internal/core/domain"
)

type formModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	TenantID  string    `gorm:"column:tenant_id;not null"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (formModel) TableName() string {
	return "forms"
}

type sectionModel struct {
	ID     string `gorm:"column:id;primaryKey"`
	FormID string `gorm:"column:form_id;not null"`
	Name   string `gorm:"column:name;not null"`
}

func (sectionModel) TableName() string {
	return "form_sections"
}

type groupModel struct {
	ID     string `gorm:"column:id;primaryKey"`
	FormID string `gorm:"column:form_id;not null"`
	Name   string `gorm:"column:name;not null"`
}

func (groupModel) TableName() string {
	return "form_groups"
}

type fieldModel struct {
	ID        string `gorm:"column:id;primaryKey"`
	FormID    string `gorm:"column:form_id;not null"`
	TenantID  string `gorm:"column:tenant_id;not null"`
	SectionID string `gorm:"column:section_id;not null"`
	Name      string `gorm:"column:name;not null"`
	Label     string `gorm:"column:label;not null"`
	Dataset   string `gorm:"column:dataset;not null"`
	Position  int    `gorm:"column:position;not null"`
}

func (fieldModel) TableName() string {
	return "form_fields"
}

type contentModel struct {
	ID            string `gorm:"column:id;primaryKey"`
	FormID        string `gorm:"column:form_id;not null"`
	ContainerType string `gorm:"column:container_type;not null"`
	ContainerID   string `gorm:"column:container_id;not null"`
	ComponentType string `gorm:"column:component_type;not null"`
	ComponentID   string `gorm:"column:component_id;not null"`
	Position      int    `gorm:"column:position;not null"`
}

func (contentModel) TableName() string {
	return "form_contents"
}

type FormRepository struct {
	db *gormsqlite.DB
}

func NewFormRepository(db *gormsqlite.DB) *FormRepository {
	return &FormRepository{db: db}
}

// Save replaces the stored tree of the form. Section, group, field and link
// ids are kept only when they already belong to this form; any other id is
// replaced by a generated one and written back. Fields marked for removal
// are dropped.
func (r *FormRepository) Save(ctx context.Context, form *domain.Form) error {
	if form == nil {
		return domain.ErrInvalidForm
	}
	now := time.Now().UTC()
	if form.ID == "" {
		form.ID = uuid.NewString()
	}
	if form.CreatedAt.IsZero() {
		form.CreatedAt = now
	}
	form.UpdatedAt = now

	err := r.db.WriteTX(ctx, func(tx *gormsqlite.Tx) error {
		var existing []formModel
		if err := tx.Where("id = ?", form.ID).Limit(1).Find(&existing).Error; err != nil {
			return fmt.Errorf("load form: %w", err)
		}
		owned := make(map[string]bool)
		if len(existing) == 1 {
			if existing[0].TenantID != form.TenantID {
				return domain.ErrNotFound
			}
			form.CreatedAt = existing[0].CreatedAt
			if err := loadOwnedIDs(tx, form.ID, owned); err != nil {
				return err
			}
		}

		model := formModel{
			ID:        form.ID,
			TenantID:  form.TenantID,
			Name:      form.Name,
			CreatedAt: form.CreatedAt,
			UpdatedAt: form.UpdatedAt,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}).Create(&model).Error
		if err != nil {
			return fmt.Errorf("upsert form: %w", err)
		}

		for _, m := range []any{&contentModel{}, &fieldModel{}, &groupModel{}, &sectionModel{}} {
			if err := tx.Where("form_id = ?", form.ID).Delete(m).Error; err != nil {
				return fmt.Errorf("clear form tree: %w", err)
			}
		}

		w := &treeWriter{
			tx:    tx,
			form:  form,
			seen:  make(map[domain.Component]bool),
			owned: owned,
			used:  make(map[string]bool),
		}
		return w.contents(domain.ContainerForm, form.ID, form.Contents)
	})
	if err != nil {
		return fmt.Errorf("save form: %w", err)
	}
	return nil
}

func loadOwnedIDs(tx *gormsqlite.Tx, formID string, owned map[string]bool) error {
	for _, m := range []any{&sectionModel{}, &groupModel{}, &fieldModel{}, &contentModel{}} {
		var ids []string
		if err := tx.Model(m).Where("form_id = ?", formID).Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("load form ids: %w", err)
		}
		for _, id := range ids {
			owned[id] = true
		}
	}
	return nil
}

type treeWriter struct {
	tx    *gormsqlite.Tx
	form  *domain.Form
	seen  map[domain.Component]bool
	owned map[string]bool
	used  map[string]bool
}

// claim keeps id when the form already owns it and it is not taken yet in
// this save.
func (w *treeWriter) claim(id string) string {
	if id == "" || !w.owned[id] || w.used[id] {
		id = uuid.NewString()
	}
	w.used[id] = true
	return id
}

func (w *treeWriter) contents(containerType, containerID string, contents []*domain.Content) error {
	for i, c := range contents {
		if c == nil || c.Component == nil {
			continue
		}
		first := !w.seen[c.Component]
		if first {
			w.seen[c.Component] = true
			if err := w.component(c.Component); err != nil {
				return err
			}
		}

		c.ID = w.claim(c.ID)
		link := contentModel{
			ID:            c.ID,
			FormID:        w.form.ID,
			ContainerType: containerType,
			ContainerID:   containerID,
			ComponentType: c.Component.ComponentType(),
			ComponentID:   c.Component.ComponentID(),
			Position:      i,
		}
		if err := w.tx.Create(&link).Error; err != nil {
			return fmt.Errorf("insert content: %w", err)
		}
	}
	return nil
}

func (w *treeWriter) component(comp domain.Component) error {
	switch comp := comp.(type) {
	case *domain.Section:
		comp.ID = w.claim(comp.ID)
		if err := w.tx.Create(&sectionModel{ID: comp.ID, FormID: w.form.ID, Name: comp.Name}).Error; err != nil {
			return fmt.Errorf("insert section: %w", err)
		}
		pos := 0
		for _, f := range comp.Fields {
			if f == nil || f.Remove {
				continue
			}
			f.ID = w.claim(f.ID)
			row := fieldModel{
				ID:        f.ID,
				FormID:    w.form.ID,
				TenantID:  w.form.TenantID,
				SectionID: comp.ID,
				Name:      f.Name,
				Label:     f.Label,
				Dataset:   f.Dataset,
				Position:  pos,
			}
			if err := w.tx.Create(&row).Error; err != nil {
				return fmt.Errorf("insert field: %w", err)
			}
			pos++
			if err := w.contents(domain.ContainerField, f.ID, f.Contents); err != nil {
				return err
			}
		}
	case *domain.Group:
		comp.ID = w.claim(comp.ID)
		if err := w.tx.Create(&groupModel{ID: comp.ID, FormID: w.form.ID, Name: comp.Name}).Error; err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		return w.contents(domain.ContainerGroup, comp.ID, comp.Contents)
	default:
		return fmt.Errorf("%w: unknown component %s", domain.ErrInvalidForm, comp.ComponentType())
	}
	return nil
}

// Get loads the form with its whole tree. Forms of other tenants are
// reported as not found.
func (r *FormRepository) Get(ctx context.Context, tenantID, id string) (*domain.Form, error) {
	var (
		form     formModel
		sections []sectionModel
		groups   []groupModel
		fields   []fieldModel
		contents []contentModel
	)
	err := r.db.ReadTX(ctx, func(tx *gormsqlite.Tx) error {
		if err := tx.Where("id = ? AND tenant_id = ?", id, tenantID).First(&form).Error; err != nil {
			return err
		}
		if err := tx.Where("form_id = ?", id).Find(&sections).Error; err != nil {
			return err
		}
		if err := tx.Where("form_id = ?", id).Find(&groups).Error; err != nil {
			return err
		}
		if err := tx.Where("form_id = ?", id).Order("section_id, position").Find(&fields).Error; err != nil {
			return err
		}
		return tx.Where("form_id = ?", id).Order("position").Find(&contents).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get form: %w", err)
	}

	return assembleForm(form, sections, groups, fields, contents)
}

func assembleForm(m formModel, sections []sectionModel, groups []groupModel, fields []fieldModel, contents []contentModel) (*domain.Form, error) {
	form := &domain.Form{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}

	components := make(map[string]domain.Component, len(sections)+len(groups))
	bySection := make(map[string]*domain.Section, len(sections))
	for _, s := range sections {
		section := &domain.Section{ID: s.ID, Name: s.Name}
		bySection[s.ID] = section
		components[domain.ComponentSection+":"+s.ID] = section
	}
	byGroup := make(map[string]*domain.Group, len(groups))
	for _, g := range groups {
		group := &domain.Group{ID: g.ID, Name: g.Name}
		byGroup[g.ID] = group
		components[domain.ComponentGroup+":"+g.ID] = group
	}
	byField := make(map[string]*domain.Field, len(fields))
	for _, f := range fields {
		section, ok := bySection[f.SectionID]
		if !ok {
			return nil, fmt.Errorf("field %s: missing section %s", f.ID, f.SectionID)
		}
		field := &domain.Field{ID: f.ID, Name: f.Name, Label: f.Label, Dataset: f.Dataset}
		section.Fields = append(section.Fields, field)
		byField[f.ID] = field
	}

	for _, c := range contents {
		comp, ok := components[c.ComponentType+":"+c.ComponentID]
		if !ok {
			return nil, fmt.Errorf("content %s: missing %s %s", c.ID, c.ComponentType, c.ComponentID)
		}
		link := &domain.Content{ID: c.ID, Component: comp}
		switch c.ContainerType {
		case domain.ContainerForm:
			form.Contents = append(form.Contents, link)
		case domain.ContainerGroup:
			g, ok := byGroup[c.ContainerID]
			if !ok {
				return nil, fmt.Errorf("content %s: missing group %s", c.ID, c.ContainerID)
			}
			g.Contents = append(g.Contents, link)
		case domain.ContainerField:
			f, ok := byField[c.ContainerID]
			if !ok {
				return nil, fmt.Errorf("content %s: missing field %s", c.ID, c.ContainerID)
			}
			f.Contents = append(f.Contents, link)
		default:
			return nil, fmt.Errorf("content %s: unknown container %s", c.ID, c.ContainerType)
		}
	}
	return form, nil
}
