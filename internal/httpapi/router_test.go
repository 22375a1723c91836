package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/gracecoord/pkg/epoch"
)

type fakeBackend struct {
	nodeID    string
	header    epoch.Header
	enforcing bool
	member    bool
	err       error
}

func (f *fakeBackend) NodeID() string { return f.nodeID }
func (f *fakeBackend) Epochs(ctx context.Context) (epoch.Header, error) {
	return f.header, f.err
}
func (f *fakeBackend) GraceEnforcing(ctx context.Context) (bool, error) { return f.enforcing, f.err }
func (f *fakeBackend) IsMember(ctx context.Context) (bool, error)       { return f.member, f.err }

func TestLivenessAlwaysOK(t *testing.T) {
	r := NewRouter(&fakeBackend{}, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessRejectsNonMember(t *testing.T) {
	r := NewRouter(&fakeBackend{member: false}, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadinessAcceptsMember(t *testing.T) {
	r := NewRouter(&fakeBackend{member: true, nodeID: "nodeA"}, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusReportsEpochAndEnforcing(t *testing.T) {
	r := NewRouter(&fakeBackend{nodeID: "nodeA", header: epoch.Header{C: 3, R: 2}, enforcing: true}, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "nodeA", data["node_id"])
	assert.Equal(t, float64(3), data["current_epoch"])
	assert.Equal(t, float64(2), data["recovery_epoch"])
	assert.Equal(t, true, data["in_grace"])
	assert.Equal(t, true, data["enforcing"])
}
