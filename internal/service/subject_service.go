package service

import (
	"context"
	"encoding/json"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/timetable-sync/internal/models"
	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
)

const (
	// SubjectResource is the snapshot key prefix of the grade calculator.
	SubjectResource   = "gradeCalculator"
	subjectCollection = "subjects"
)

// DocumentStore is the remote document store holding user subjects.
type DocumentStore interface {
	List(ctx context.Context, collection string, filter models.DocumentFilter) ([]models.Document, error)
	Create(ctx context.Context, doc *models.Document) error
	Update(ctx context.Context, doc *models.Document) error
	Delete(ctx context.Context, collection, id string) error
}

// SubjectsView is a user's subject list with computed averages.
type SubjectsView struct {
	Subjects   models.SubjectList `json:"subjects"`
	Averages   map[string]float64 `json:"averages"`
	Overall    *float64           `json:"overall,omitempty"`
	Source     models.CacheSource `json:"source"`
	Stale      bool               `json:"stale"`
	IsFallback bool               `json:"is_fallback"`
	Pending    bool               `json:"pending_push"`
}

// SubjectService manages per-user subjects and grades offline first.
type SubjectService struct {
	resource  *Resource[models.SubjectList]
	store     DocumentStore
	validator *validator.Validate
	logger    *zap.Logger
}

// NewSubjectService registers the grade calculator resource with rec. A nil
// store keeps the data local to this process.
func NewSubjectService(rec *SyncReconciler, store DocumentStore, validate *validator.Validate, logger *zap.Logger) *SubjectService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SubjectService{store: store, validator: validate, logger: logger}
	opts := ResourceOptions[models.SubjectList]{
		Fallback: func(error) models.SubjectList { return models.SubjectList{} },
	}
	if store != nil {
		opts.Fetch = s.fetch
		opts.Push = s.push
	}
	s.resource = NewResource(rec, SubjectResource, opts)
	return s
}

// Resource exposes the underlying cached resource.
func (s *SubjectService) Resource() *Resource[models.SubjectList] {
	return s.resource
}

// List returns the subjects of userID.
func (s *SubjectService) List(ctx context.Context, userID string, opts GetOptions) (*SubjectsView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user id required")
	}
	entry := s.resource.Get(ctx, userID, opts)
	return s.view(ctx, userID, entry), nil
}

// Replace stores subjects as the complete list of userID.
func (s *SubjectService) Replace(ctx context.Context, userID string, subjects models.SubjectList) (*SubjectsView, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user id required")
	}
	list := subjects.Clone()
	if list == nil {
		list = models.SubjectList{}
	}
	seen := make(map[string]struct{}, len(list))
	for i := range list {
		if err := s.prepareSubject(&list[i]); err != nil {
			return nil, err
		}
		if _, dup := seen[list[i].ID]; dup {
			return nil, appErrors.Clone(appErrors.ErrValidation, "duplicate subject id "+list[i].ID)
		}
		seen[list[i].ID] = struct{}{}
	}
	entry := s.resource.Put(ctx, userID, list)
	s.logger.Info("subjects replaced", zap.String("user_id", userID), zap.Int("count", len(list)))
	return s.view(ctx, userID, entry), nil
}

// AddGrade appends grade to a subject of userID.
func (s *SubjectService) AddGrade(ctx context.Context, userID, subjectID string, grade models.Grade) (*SubjectsView, error) {
	list, err := s.editable(ctx, userID)
	if err != nil {
		return nil, err
	}
	idx := list.Find(subjectID)
	if idx < 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
	}
	if grade.ID == "" {
		grade.ID = uuid.NewString()
	}
	if err := s.validator.Struct(grade); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grade")
	}
	list[idx].Grades = append(list[idx].Grades, grade)
	entry := s.resource.Put(ctx, userID, list)
	return s.view(ctx, userID, entry), nil
}

// DeleteSubject removes a subject and its grades.
func (s *SubjectService) DeleteSubject(ctx context.Context, userID, subjectID string) (*SubjectsView, error) {
	list, err := s.editable(ctx, userID)
	if err != nil {
		return nil, err
	}
	idx := list.Find(subjectID)
	if idx < 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "subject not found")
	}
	list = append(list[:idx], list[idx+1:]...)
	entry := s.resource.Put(ctx, userID, list)
	return s.view(ctx, userID, entry), nil
}

// WeightedAverage averages grades by weight. Grades without a weight count
// once. ok is false when there is nothing to average.
func WeightedAverage(grades []models.Grade) (avg float64, ok bool) {
	var sum, weights float64
	for _, g := range grades {
		w := g.Weight
		if w <= 0 {
			w = 1
		}
		sum += g.Value * w
		weights += w
	}
	if weights == 0 {
		return 0, false
	}
	return round2(sum / weights), true
}

// editable loads the current list for a mutation. A list that was never
// loaded cannot be edited: pushing it would wipe the remote copy.
func (s *SubjectService) editable(ctx context.Context, userID string) (models.SubjectList, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user id required")
	}
	entry := s.resource.Get(ctx, userID, GetOptions{})
	if entry.IsFallback && s.store != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "subjects are not loaded yet, try again once the store is reachable")
	}
	return entry.Payload.Clone(), nil
}

func (s *SubjectService) prepareSubject(subject *models.Subject) error {
	subject.Name = strings.TrimSpace(subject.Name)
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	if subject.Grades == nil {
		subject.Grades = []models.Grade{}
	}
	for i := range subject.Grades {
		if subject.Grades[i].ID == "" {
			subject.Grades[i].ID = uuid.NewString()
		}
	}
	if err := s.validator.Struct(subject); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid subject")
	}
	return nil
}

func (s *SubjectService) view(ctx context.Context, userID string, entry models.CacheEntry[models.SubjectList]) *SubjectsView {
	subjects := entry.Payload
	if subjects == nil {
		subjects = models.SubjectList{}
	}
	v := &SubjectsView{
		Subjects:   subjects,
		Averages:   make(map[string]float64, len(subjects)),
		Source:     entry.Source,
		Stale:      entry.Stale,
		IsFallback: entry.IsFallback,
		Pending:    s.resource.PendingPush(ctx, userID),
	}
	var sum, weights float64
	for _, subject := range subjects {
		avg, ok := WeightedAverage(subject.Grades)
		if !ok {
			continue
		}
		v.Averages[subject.ID] = avg
		w := subject.Weight
		if w <= 0 {
			w = 1
		}
		sum += avg * w
		weights += w
	}
	if weights > 0 {
		overall := round2(sum / weights)
		v.Overall = &overall
	}
	return v
}

func (s *SubjectService) fetch(ctx context.Context, userID string) (models.SubjectList, error) {
	docs, err := s.store.List(ctx, subjectCollection, models.DocumentFilter{"userId": userID})
	if err != nil {
		return nil, err
	}
	list := make(models.SubjectList, 0, len(docs))
	for _, doc := range docs {
		subject, err := decodeSubjectDocument(doc)
		if err != nil {
			s.logger.Warn("skipping unreadable subject document", zap.String("id", doc.ID), zap.Error(err))
			continue
		}
		list = append(list, subject)
	}
	return list, nil
}

// push makes the remote set of userID equal to list.
func (s *SubjectService) push(ctx context.Context, userID string, list models.SubjectList) error {
	docs, err := s.store.List(ctx, subjectCollection, models.DocumentFilter{"userId": userID})
	if err != nil {
		return err
	}
	remote := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		remote[doc.ID] = struct{}{}
	}

	for _, subject := range list {
		data, err := json.Marshal(subject)
		if err != nil {
			return err
		}
		doc := &models.Document{ID: subject.ID, Collection: subjectCollection, UserID: userID, Data: data}
		if _, ok := remote[subject.ID]; ok {
			err = s.store.Update(ctx, doc)
			delete(remote, subject.ID)
		} else {
			err = s.store.Create(ctx, doc)
		}
		if err != nil {
			return err
		}
	}
	for id := range remote {
		if err := s.store.Delete(ctx, subjectCollection, id); err != nil {
			return err
		}
	}
	return nil
}

// decodeSubjectDocument reads a stored subject leniently. Numbers may be
// strings and missing fields take their zero value.
func decodeSubjectDocument(doc models.Document) (models.Subject, error) {
	var raw map[string]any
	if err := json.Unmarshal(doc.Data, &raw); err != nil {
		return models.Subject{}, err
	}
	subject := models.Subject{
		ID:      doc.ID,
		Name:    coerceString(raw["name"]),
		Teacher: coerceString(raw["teacher"]),
		Weight:  coerceFloat(raw["weight"], 1),
		Grades:  []models.Grade{},
	}
	if subject.Name == "" {
		subject.Name = UnknownSubject
	}
	items, _ := raw["grades"].([]any)
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		grade := models.Grade{
			ID:     coerceString(m["id"]),
			Value:  coerceFloat(m["value"], 0),
			Weight: coerceFloat(m["weight"], 1),
			Kind:   coerceString(m["kind"]),
			Date:   coerceString(m["date"]),
			Note:   coerceString(m["note"]),
		}
		if grade.ID == "" {
			grade.ID = uuid.NewString()
		}
		subject.Grades = append(subject.Grades, grade)
	}
	return subject, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
