package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"casedesk/pkg/domain"
)

// GormStore implements Store using GORM + Postgres. Per-case serialization
// is provided by a SELECT ... FOR UPDATE on the case row inside every
// mutating transaction, which also makes sequence assignment race-free.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&CaseModel{}, &UpdateModel{}, &DocumentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// CreateCase inserts a new case record.
func (s *GormStore) CreateCase(ctx context.Context, c domain.Case) (domain.Case, error) {
	model, err := caseToModel(c)
	if err != nil {
		return domain.Case{}, err
	}
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.Case{}, err
	}
	return c, nil
}

// GetCase retrieves a case by ID.
func (s *GormStore) GetCase(ctx context.Context, id string) (domain.Case, bool, error) {
	var model CaseModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Case{}, false, nil
		}
		return domain.Case{}, false, err
	}
	c, err := caseFromModel(model)
	if err != nil {
		return domain.Case{}, false, err
	}
	return c, true, nil
}

// ListCases returns all cases ordered by creation time.
func (s *GormStore) ListCases(ctx context.Context) ([]domain.Case, error) {
	return s.listCases(ctx)
}

// ListCasesByCustomer returns the cases owned by one customer.
func (s *GormStore) ListCasesByCustomer(ctx context.Context, customerID string) ([]domain.Case, error) {
	return s.listCases(ctx, "customer_id = ?", customerID)
}

func (s *GormStore) listCases(ctx context.Context, conds ...any) ([]domain.Case, error) {
	var models []CaseModel
	tx := s.db.WithContext(ctx).Order("created_at ASC")
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Case, 0, len(models))
	for _, m := range models {
		c, err := caseFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, nil
}

// ApplyTransition moves the case between statuses and appends the update in
// one transaction.
func (s *GormStore) ApplyTransition(ctx context.Context, caseID string, from, to domain.CaseStatus, upd domain.Update) (domain.Case, domain.Update, error) {
	var outCase domain.Case
	var outUpd domain.Update
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockCase(tx, caseID)
		if err != nil {
			return err
		}
		if model.Status != string(from) {
			return ErrConflict
		}
		model.Status = string(to)
		appended, err := appendLocked(tx, model, upd)
		if err != nil {
			return err
		}
		if err := saveCase(tx, model); err != nil {
			return err
		}
		outCase, err = caseFromModel(*model)
		outUpd = appended
		return err
	})
	if err != nil {
		return domain.Case{}, domain.Update{}, err
	}
	return outCase, outUpd, nil
}

// SetPriority updates the case priority and appends the update in one
// transaction.
func (s *GormStore) SetPriority(ctx context.Context, caseID string, p domain.Priority, upd domain.Update) (domain.Case, domain.Update, error) {
	var outCase domain.Case
	var outUpd domain.Update
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockCase(tx, caseID)
		if err != nil {
			return err
		}
		model.Priority = string(p)
		appended, err := appendLocked(tx, model, upd)
		if err != nil {
			return err
		}
		if err := saveCase(tx, model); err != nil {
			return err
		}
		outCase, err = caseFromModel(*model)
		outUpd = appended
		return err
	})
	if err != nil {
		return domain.Case{}, domain.Update{}, err
	}
	return outCase, outUpd, nil
}

// AppendUpdate appends a log entry for a case, assigning the next sequence
// number under the case row lock.
func (s *GormStore) AppendUpdate(ctx context.Context, upd domain.Update) (domain.Update, error) {
	var out domain.Update
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockCase(tx, upd.CaseID)
		if err != nil {
			return err
		}
		out, err = appendLocked(tx, model, upd)
		if err != nil {
			return err
		}
		return saveCase(tx, model)
	})
	if err != nil {
		return domain.Update{}, err
	}
	return out, nil
}

// ListUpdates returns the full feed for a case in sequence order.
func (s *GormStore) ListUpdates(ctx context.Context, caseID string) ([]domain.Update, error) {
	var models []UpdateModel
	if err := s.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Update, 0, len(models))
	for _, m := range models {
		u, err := updateFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, nil
}

// AttachDocument inserts the document record and appends the update in one
// transaction.
func (s *GormStore) AttachDocument(ctx context.Context, doc domain.Document, upd domain.Update) (domain.Document, domain.Update, error) {
	var outUpd domain.Update
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockCase(tx, doc.CaseID)
		if err != nil {
			return err
		}
		docModel := documentToModel(doc)
		if err := tx.Create(&docModel).Error; err != nil {
			return err
		}
		outUpd, err = appendLocked(tx, model, upd)
		if err != nil {
			return err
		}
		return saveCase(tx, model)
	})
	if err != nil {
		return domain.Document{}, domain.Update{}, err
	}
	return doc, outUpd, nil
}

// GetDocument retrieves one document scoped to its case.
func (s *GormStore) GetDocument(ctx context.Context, caseID, docID string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ? AND case_id = ?", docID, caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// DetachDocument soft-deletes the document. A second detach is a no-op.
func (s *GormStore) DetachDocument(ctx context.Context, caseID, docID string, upd domain.Update) (bool, error) {
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model, err := lockCase(tx, caseID)
		if err != nil {
			return err
		}
		var docModel DocumentModel
		if err := tx.First(&docModel, "id = ? AND case_id = ?", docID, caseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		if docModel.DeletedAt != nil {
			return nil
		}
		now := time.Now().UTC()
		if err := tx.Model(&DocumentModel{}).
			Where("id = ?", docID).
			Update("deleted_at", now).Error; err != nil {
			return err
		}
		if _, err := appendLocked(tx, model, upd); err != nil {
			return err
		}
		if err := saveCase(tx, model); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ListDocuments returns every document of a case, soft-deleted included;
// visibility filtering is the caller's concern.
func (s *GormStore) ListDocuments(ctx context.Context, caseID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.WithContext(ctx).
		Where("case_id = ?", caseID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

func lockCase(tx *gorm.DB, caseID string) (*CaseModel, error) {
	var model CaseModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&model, "id = ?", caseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &model, nil
}

// appendLocked assigns the next sequence number and inserts the update. The
// caller must hold the case row lock and persist the advanced LastSeq.
func appendLocked(tx *gorm.DB, caseModel *CaseModel, upd domain.Update) (domain.Update, error) {
	caseModel.LastSeq++
	upd.Seq = caseModel.LastSeq
	if upd.CreatedAt.IsZero() {
		upd.CreatedAt = time.Now().UTC()
	}
	model, err := updateToModel(upd)
	if err != nil {
		return domain.Update{}, err
	}
	if err := tx.Create(&model).Error; err != nil {
		return domain.Update{}, err
	}
	return upd, nil
}

func saveCase(tx *gorm.DB, model *CaseModel) error {
	model.UpdatedAt = time.Now().UTC()
	return tx.Model(&CaseModel{}).
		Where("id = ?", model.ID).
		Updates(map[string]any{
			"status":     model.Status,
			"priority":   model.Priority,
			"last_seq":   model.LastSeq,
			"updated_at": model.UpdatedAt,
		}).Error
}

func caseToModel(c domain.Case) (CaseModel, error) {
	fields, err := json.Marshal(c.Fields)
	if err != nil {
		return CaseModel{}, err
	}
	return CaseModel{
		ID:         c.ID,
		CustomerID: c.CustomerID,
		Category:   c.Category,
		Status:     string(c.Status),
		Priority:   string(c.Priority),
		Fields:     fields,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}, nil
}

func caseFromModel(m CaseModel) (domain.Case, error) {
	var fields map[string]any
	if len(m.Fields) > 0 {
		if err := json.Unmarshal(m.Fields, &fields); err != nil {
			return domain.Case{}, err
		}
	}
	return domain.Case{
		ID:         m.ID,
		CustomerID: m.CustomerID,
		Category:   m.Category,
		Status:     domain.CaseStatus(m.Status),
		Priority:   domain.Priority(m.Priority),
		Fields:     fields,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}

func updateToModel(u domain.Update) (UpdateModel, error) {
	payload, err := json.Marshal(u.Payload)
	if err != nil {
		return UpdateModel{}, err
	}
	return UpdateModel{
		ID:         u.ID,
		CaseID:     u.CaseID,
		Seq:        u.Seq,
		AuthorID:   u.AuthorID,
		AuthorRole: string(u.AuthorRole),
		Kind:       string(u.Kind),
		Payload:    payload,
		Visibility: string(u.Visibility),
		CreatedAt:  u.CreatedAt,
	}, nil
}

func updateFromModel(m UpdateModel) (domain.Update, error) {
	var payload map[string]any
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &payload); err != nil {
			return domain.Update{}, err
		}
	}
	return domain.Update{
		ID:         m.ID,
		CaseID:     m.CaseID,
		Seq:        m.Seq,
		AuthorID:   m.AuthorID,
		AuthorRole: domain.Role(m.AuthorRole),
		Kind:       domain.UpdateKind(m.Kind),
		Payload:    payload,
		Visibility: domain.Visibility(m.Visibility),
		CreatedAt:  m.CreatedAt,
	}, nil
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:         d.ID,
		CaseID:     d.CaseID,
		UploaderID: d.UploaderID,
		Filename:   d.Filename,
		BlobHandle: d.BlobHandle,
		MimeType:   d.MimeType,
		SizeBytes:  d.SizeBytes,
		CreatedAt:  d.CreatedAt,
		DeletedAt:  d.DeletedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:         m.ID,
		CaseID:     m.CaseID,
		UploaderID: m.UploaderID,
		Filename:   m.Filename,
		BlobHandle: m.BlobHandle,
		MimeType:   m.MimeType,
		SizeBytes:  m.SizeBytes,
		CreatedAt:  m.CreatedAt,
		DeletedAt:  m.DeletedAt,
	}
}
