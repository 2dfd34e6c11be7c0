package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getfaultd/faultd/pkg/stub"
)

func newTestAPI(t *testing.T) (*httptest.Server, *stub.Registry) {
	t.Helper()
	registry := stub.NewRegistry()
	srv := httptest.NewServer(NewAPI(registry, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, registry
}

func TestHealth(t *testing.T) {
	srv, _ := newTestAPI(t)

	resp, err := http.Get(srv.URL + "/__admin/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCreateAndListMappings(t *testing.T) {
	srv, registry := newTestAPI(t)

	body := `{
		"method": "GET",
		"path": "/https-test",
		"response": {"status": 200, "body": "HTTPS content"}
	}`
	resp, err := http.Post(srv.URL+"/__admin/mappings", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created stub.Stub
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "/https-test", created.Path)

	list, err := http.Get(srv.URL + "/__admin/mappings")
	require.NoError(t, err)
	defer list.Body.Close()

	var listed struct {
		Mappings []*stub.Stub `json:"mappings"`
		Total    int          `json:"total"`
	}
	require.NoError(t, json.NewDecoder(list.Body).Decode(&listed))
	assert.Equal(t, 1, listed.Total)
	require.Len(t, registry.All(), 1)
}

func TestCreateFaultMapping(t *testing.T) {
	srv, registry := newTestAPI(t)

	body := `{"path": "/empty/response", "response": {"fault": "empty_response"}}`
	resp, err := http.Post(srv.URL+"/__admin/mappings", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	stubs := registry.All()
	require.Len(t, stubs, 1)
	assert.Equal(t, "empty_response", string(stubs[0].Response.Fault))
}

func TestCreateRejectsInvalidStub(t *testing.T) {
	srv, _ := newTestAPI(t)

	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "missing path", body: `{"method": "GET"}`},
		{name: "unknown fault", body: `{"path": "/x", "response": {"fault": "nope"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/__admin/mappings", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestDeleteMapping(t *testing.T) {
	srv, registry := newTestAPI(t)
	s, err := registry.Register(&stub.Stub{Path: "/x"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/__admin/mappings/"+s.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, registry.All())

	// Deleting again is a 404.
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestResetMappings(t *testing.T) {
	srv, registry := newTestAPI(t)
	_, err := registry.Register(&stub.Stub{Path: "/a"})
	require.NoError(t, err)
	_, err = registry.Register(&stub.Stub{Path: "/b"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/__admin/mappings", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, registry.All())
}
