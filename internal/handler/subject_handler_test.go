package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-sync/internal/middleware"
	"github.com/noah-isme/timetable-sync/internal/models"
	"github.com/noah-isme/timetable-sync/internal/service"
	appErrors "github.com/noah-isme/timetable-sync/pkg/errors"
)

type subjectServiceMock struct {
	userID    string
	subjectID string
	replaced  models.SubjectList
	grade     models.Grade
	err       error
}

func (m *subjectServiceMock) result(userID string) (*service.SubjectsView, error) {
	m.userID = userID
	if m.err != nil {
		return nil, m.err
	}
	return &service.SubjectsView{Subjects: models.SubjectList{{ID: "s1", Name: "Mathe"}}}, nil
}

func (m *subjectServiceMock) List(_ context.Context, userID string, _ service.GetOptions) (*service.SubjectsView, error) {
	return m.result(userID)
}

func (m *subjectServiceMock) Replace(_ context.Context, userID string, subjects models.SubjectList) (*service.SubjectsView, error) {
	m.replaced = subjects
	return m.result(userID)
}

func (m *subjectServiceMock) AddGrade(_ context.Context, userID, subjectID string, grade models.Grade) (*service.SubjectsView, error) {
	m.subjectID = subjectID
	m.grade = grade
	return m.result(userID)
}

func (m *subjectServiceMock) DeleteSubject(_ context.Context, userID, subjectID string) (*service.SubjectsView, error) {
	m.subjectID = subjectID
	return m.result(userID)
}

func newSubjectRouter(mock *subjectServiceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewSubjectHandler(mock)
	r := gin.New()
	g := r.Group("/api/subjects", middleware.Identity(""))
	g.GET("", h.List)
	g.PUT("", h.Replace)
	g.POST("/:id/grades", h.AddGrade)
	g.DELETE("/:id", h.Delete)
	return r
}

func subjectRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.UserIDHeader, "u1")
	return req
}

func TestSubjectHandlerList(t *testing.T) {
	mock := &subjectServiceMock{}
	w := httptest.NewRecorder()
	newSubjectRouter(mock).ServeHTTP(w, subjectRequest(http.MethodGet, "/api/subjects", ""))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", mock.userID)
	assert.Contains(t, w.Body.String(), `"name":"Mathe"`)
}

func TestSubjectHandlerRequiresIdentity(t *testing.T) {
	w := httptest.NewRecorder()
	newSubjectRouter(&subjectServiceMock{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/subjects", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubjectHandlerReplace(t *testing.T) {
	mock := &subjectServiceMock{}
	r := newSubjectRouter(mock)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, subjectRequest(http.MethodPut, "/api/subjects", `[{"name": "Art", "weight": 1, "grades": []}]`))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, mock.replaced, 1)
	assert.Equal(t, "Art", mock.replaced[0].Name)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, subjectRequest(http.MethodPut, "/api/subjects", `{"name": "Art"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubjectHandlerAddGrade(t *testing.T) {
	mock := &subjectServiceMock{}
	w := httptest.NewRecorder()
	newSubjectRouter(mock).ServeHTTP(w, subjectRequest(http.MethodPost, "/api/subjects/s1/grades", `{"value": 85, "weight": 2}`))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "s1", mock.subjectID)
	assert.Equal(t, 85.0, mock.grade.Value)
}

func TestSubjectHandlerDeleteMapsErrors(t *testing.T) {
	mock := &subjectServiceMock{err: appErrors.Clone(appErrors.ErrNotFound, "subject not found")}
	w := httptest.NewRecorder()
	newSubjectRouter(mock).ServeHTTP(w, subjectRequest(http.MethodDelete, "/api/subjects/missing", ""))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "missing", mock.subjectID)
	assert.Contains(t, w.Body.String(), `"NOT_FOUND"`)
}
