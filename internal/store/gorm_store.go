package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"modeld/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&IdentityRow{}, &RoleRow{}, &ModelRow{}, &FieldRow{}, &RecordRow{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// SaveIdentity registers or updates an identity.
func (s *GormStore) SaveIdentity(id domain.Identity) error {
	row := identityToRow(id)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "password_hash"}),
	}).Create(&row).Error
}

// HasIdentityEmail checks if the email exists.
func (s *GormStore) HasIdentityEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&IdentityRow{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetIdentityByEmail looks up an identity by email.
func (s *GormStore) GetIdentityByEmail(email string) (domain.Identity, bool, error) {
	var row IdentityRow
	if err := s.db.Where("email = ?", email).First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Identity{}, false, nil
		}
		return domain.Identity{}, false, err
	}
	return identityFromRow(row), true, nil
}

// GetIdentityByID returns an identity by ID.
func (s *GormStore) GetIdentityByID(id string) (domain.Identity, bool, error) {
	var row IdentityRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Identity{}, false, nil
		}
		return domain.Identity{}, false, err
	}
	return identityFromRow(row), true, nil
}

// IdentityCount returns the number of identities.
func (s *GormStore) IdentityCount() (int, error) {
	var count int64
	if err := s.db.Model(&IdentityRow{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// GetRole returns the persisted role assignment for an identity.
func (s *GormStore) GetRole(identityID string) (domain.Role, bool, error) {
	var row RoleRow
	if err := s.db.First(&row, "identity_id = ?", identityID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", false, nil
		}
		return "", false, err
	}
	role, ok := domain.ParseRole(row.Role)
	if !ok {
		return "", false, fmt.Errorf("stored role %q is invalid", row.Role)
	}
	return role, true, nil
}

// SetRole upserts the role assignment for an identity.
func (s *GormStore) SetRole(identityID string, role domain.Role) error {
	row := RoleRow{IdentityID: identityID, Role: string(role), UpdatedAt: time.Now().UTC()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identity_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "updated_at"}),
	}).Create(&row).Error
}

// ListRoles returns all role assignments.
func (s *GormStore) ListRoles() ([]RoleAssignment, error) {
	var rows []RoleRow
	if err := s.db.Order("identity_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]RoleAssignment, 0, len(rows))
	for _, r := range rows {
		res = append(res, RoleAssignment{IdentityID: r.IdentityID, Role: domain.Role(r.Role), UpdatedAt: r.UpdatedAt})
	}
	return res, nil
}

// CreateModel persists a model and its fields, assigning identifiers.
func (s *GormStore) CreateModel(m domain.Model) (domain.Model, error) {
	now := time.Now().UTC()
	m.ID = uuid.NewString()
	m.CreatedAt = now
	m.UpdatedAt = now
	err := s.db.Transaction(func(tx *gorm.DB) error {
		row := modelToRow(m)
		if err := tx.Create(&row).Error; err != nil {
			if err == gorm.ErrDuplicatedKey {
				return ErrConflict
			}
			return err
		}
		return insertFields(tx, m.ID, m.Fields)
	})
	if err != nil {
		return domain.Model{}, err
	}
	return s.GetModel(m.ID)
}

// GetModel returns the full definition with ordered fields.
func (s *GormStore) GetModel(id string) (domain.Model, error) {
	var row ModelRow
	if err := s.db.First(&row, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Model{}, ErrNotFound
		}
		return domain.Model{}, err
	}
	var fieldRows []FieldRow
	if err := s.db.Where("model_id = ?", id).Order("order_index ASC").Find(&fieldRows).Error; err != nil {
		return domain.Model{}, err
	}
	m := modelFromRow(row)
	m.Fields = make([]domain.Field, 0, len(fieldRows))
	for _, fr := range fieldRows {
		m.Fields = append(m.Fields, fieldFromRow(fr))
	}
	return m, nil
}

// ListModels returns summaries ordered by creation time, newest first.
func (s *GormStore) ListModels() ([]domain.ModelSummary, error) {
	var rows []ModelRow
	if err := s.db.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.ModelSummary, 0, len(rows))
	for _, r := range rows {
		res = append(res, modelFromRow(r).Summary())
	}
	return res, nil
}

// UpdateModel replaces metadata and the full field set in one transaction.
func (s *GormStore) UpdateModel(id, name, description string, fields []domain.Field) (domain.Model, error) {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&ModelRow{}).Where("id = ?", id).Updates(map[string]any{
			"name":        name,
			"description": description,
			"updated_at":  time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Delete(&FieldRow{}, "model_id = ?", id).Error; err != nil {
			return err
		}
		return insertFields(tx, id, fields)
	})
	if err != nil {
		return domain.Model{}, err
	}
	return s.GetModel(id)
}

// DeleteModel cascades to fields and records.
func (s *GormStore) DeleteModel(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&ModelRow{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.Delete(&FieldRow{}, "model_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&RecordRow{}, "model_id = ?", id).Error
	})
}

// SaveRecord stores or replaces a record.
func (s *GormStore) SaveRecord(rec domain.Record) error {
	row, err := recordToRow(rec)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
}

// GetRecord retrieves one record of a model.
func (s *GormStore) GetRecord(modelID, id string) (domain.Record, error) {
	var row RecordRow
	if err := s.db.First(&row, "id = ? AND model_id = ?", id, modelID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Record{}, ErrNotFound
		}
		return domain.Record{}, err
	}
	return recordFromRow(row)
}

// ListRecords returns a model's records, newest first.
func (s *GormStore) ListRecords(modelID string) ([]domain.Record, error) {
	var rows []RecordRow
	if err := s.db.Where("model_id = ?", modelID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := recordFromRow(r)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, nil
}

// DeleteRecord removes one record of a model.
func (s *GormStore) DeleteRecord(modelID, id string) error {
	res := s.db.Delete(&RecordRow{}, "id = ? AND model_id = ?", id, modelID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func insertFields(tx *gorm.DB, modelID string, fields []domain.Field) error {
	for _, f := range fields {
		fr := fieldToRow(f)
		fr.ID = uuid.NewString()
		fr.ModelID = modelID
		if err := tx.Create(&fr).Error; err != nil {
			return err
		}
	}
	return nil
}

func identityToRow(id domain.Identity) IdentityRow {
	return IdentityRow{
		ID:           id.ID,
		Email:        id.Email,
		PasswordHash: id.PasswordHash,
		CreatedAt:    id.CreatedAt,
	}
}

func identityFromRow(row IdentityRow) domain.Identity {
	return domain.Identity{
		ID:           row.ID,
		Email:        row.Email,
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt,
	}
}

func modelToRow(m domain.Model) ModelRow {
	return ModelRow{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func modelFromRow(row ModelRow) domain.Model {
	return domain.Model{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		CreatedBy:   row.CreatedBy,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

func fieldToRow(f domain.Field) FieldRow {
	return FieldRow{
		ID:           f.ID,
		ModelID:      f.ModelID,
		Name:         f.Name,
		FieldType:    string(f.Type),
		Required:     f.Required,
		DefaultValue: f.DefaultValue,
		OrderIndex:   f.OrderIndex,
	}
}

func fieldFromRow(row FieldRow) domain.Field {
	return domain.Field{
		ID:           row.ID,
		ModelID:      row.ModelID,
		Name:         row.Name,
		Type:         domain.FieldType(row.FieldType),
		Required:     row.Required,
		DefaultValue: row.DefaultValue,
		OrderIndex:   row.OrderIndex,
	}
}

func recordToRow(rec domain.Record) (RecordRow, error) {
	data, err := json.Marshal(rec.Values)
	if err != nil {
		return RecordRow{}, fmt.Errorf("marshal record values: %w", err)
	}
	return RecordRow{
		ID:        rec.ID,
		ModelID:   rec.ModelID,
		Data:      datatypes.JSON(data),
		CreatedBy: rec.CreatedBy,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

func recordFromRow(row RecordRow) (domain.Record, error) {
	values := make(map[string]string)
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &values); err != nil {
			return domain.Record{}, fmt.Errorf("unmarshal record values: %w", err)
		}
	}
	return domain.Record{
		ID:        row.ID,
		ModelID:   row.ModelID,
		Values:    values,
		CreatedBy: row.CreatedBy,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}
