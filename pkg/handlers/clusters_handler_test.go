package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/felineworks/resolve-engine/pkg/apperrors"
	"github.com/felineworks/resolve-engine/pkg/models"
	"github.com/felineworks/resolve-engine/pkg/services"
)

// mockClusterService implements services.ClusterService for handler testing.
type mockClusterService struct {
	clusters map[uuid.UUID]*models.Cluster
	result   *services.ClusterActionResult
	applyErr error

	lastRequest *services.ClusterActionRequest
}

func (m *mockClusterService) Get(_ context.Context, id uuid.UUID) (*models.Cluster, error) {
	c, ok := m.clusters[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return c, nil
}

func (m *mockClusterService) List(_ context.Context, status *models.ClusterStatus) ([]*models.Cluster, error) {
	var out []*models.Cluster
	for _, c := range m.clusters {
		if status != nil && c.Status != *status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *mockClusterService) Apply(_ context.Context, _ uuid.UUID, req *services.ClusterActionRequest) (*services.ClusterActionResult, error) {
	m.lastRequest = req
	if m.applyErr != nil {
		return nil, m.applyErr
	}
	return m.result, nil
}

var _ services.ClusterService = (*mockClusterService)(nil)

func newMockClusterService(clusters ...*models.Cluster) *mockClusterService {
	m := &mockClusterService{clusters: make(map[uuid.UUID]*models.Cluster)}
	for _, c := range clusters {
		m.clusters[c.ID] = c
	}
	return m
}

func makeClusterActionRequest(clusterID string, body []byte) *http.Request {
	req := httptest.NewRequest("POST", fmt.Sprintf("/api/clusters/%s/action", clusterID), bytes.NewReader(body))
	req.SetPathValue("clid", clusterID)
	return req
}

func TestClusterHandler_List_Success(t *testing.T) {
	svc := newMockClusterService(
		&models.Cluster{ID: uuid.New(), Status: models.ClusterStatusPending},
		&models.Cluster{ID: uuid.New(), Status: models.ClusterStatusReviewed},
	)
	handler := NewClusterHandler(svc, zap.NewNop())

	req := httptest.NewRequest("GET", "/api/clusters?status=pending", nil)
	rr := httptest.NewRecorder()
	handler.List(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp ClusterListResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Clusters, 1)
	assert.Equal(t, models.ClusterStatusPending, resp.Clusters[0].Status)
}

func TestClusterHandler_List_InvalidStatus(t *testing.T) {
	handler := NewClusterHandler(newMockClusterService(), zap.NewNop())

	req := httptest.NewRequest("GET", "/api/clusters?status=closed", nil)
	rr := httptest.NewRecorder()
	handler.List(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestClusterHandler_Get_Success(t *testing.T) {
	cluster := &models.Cluster{ID: uuid.New(), Status: models.ClusterStatusPending, ConsistencyScore: 0.75}
	handler := NewClusterHandler(newMockClusterService(cluster), zap.NewNop())

	req := httptest.NewRequest("GET", fmt.Sprintf("/api/clusters/%s", cluster.ID), nil)
	req.SetPathValue("clid", cluster.ID.String())
	rr := httptest.NewRecorder()
	handler.Get(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp models.Cluster
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, cluster.ID, resp.ID)
	assert.InDelta(t, 0.75, resp.ConsistencyScore, 0.0001)
}

func TestClusterHandler_Get_NotFound(t *testing.T) {
	handler := NewClusterHandler(newMockClusterService(), zap.NewNop())

	id := uuid.New()
	req := httptest.NewRequest("GET", fmt.Sprintf("/api/clusters/%s", id), nil)
	req.SetPathValue("clid", id.String())
	rr := httptest.NewRecorder()
	handler.Get(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestClusterHandler_Apply_Success(t *testing.T) {
	cluster := &models.Cluster{ID: uuid.New(), Status: models.ClusterStatusReviewed}
	svc := newMockClusterService(cluster)
	svc.result = &services.ClusterActionResult{Cluster: cluster, MembersUpdated: 3}
	handler := NewClusterHandler(svc, zap.NewNop())

	classification := "colony"
	body, _ := json.Marshal(ClusterActionRequest{
		Action:         models.ClusterActionReconcile,
		Classification: &classification,
		ReviewedBy:     "staff",
	})
	rr := httptest.NewRecorder()
	handler.Apply(rr, makeClusterActionRequest(cluster.ID.String(), body))

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp services.ClusterActionResult
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, 3, resp.MembersUpdated)

	require.NotNil(t, svc.lastRequest)
	assert.Equal(t, models.ClusterActionReconcile, svc.lastRequest.Action)
	require.NotNil(t, svc.lastRequest.Classification)
	assert.Equal(t, "colony", *svc.lastRequest.Classification)
	assert.Equal(t, "staff", svc.lastRequest.ReviewedBy)
}

func TestClusterHandler_Apply_AlreadyResolved(t *testing.T) {
	svc := newMockClusterService()
	svc.applyErr = &apperrors.AlreadyResolvedError{Subject: "cluster", CandidateID: uuid.New(), Status: "reviewed"}
	handler := NewClusterHandler(svc, zap.NewNop())

	body, _ := json.Marshal(ClusterActionRequest{Action: models.ClusterActionDismiss, ReviewedBy: "staff"})
	rr := httptest.NewRecorder()
	handler.Apply(rr, makeClusterActionRequest(uuid.New().String(), body))

	assert.Equal(t, http.StatusConflict, rr.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, "already_resolved", resp["error"])
}

func TestClusterHandler_Apply_InvalidBody(t *testing.T) {
	handler := NewClusterHandler(newMockClusterService(), zap.NewNop())

	rr := httptest.NewRecorder()
	handler.Apply(rr, makeClusterActionRequest(uuid.New().String(), []byte(`"action":`)))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
