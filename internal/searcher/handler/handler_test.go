package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/definition"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/indexer/registry"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/Document-Index-Engine/pkg/config"
)

func newServer(t *testing.T) *mux.Router {
	t.Helper()
	reg := registry.New(storage.NewMemoryStore(), config.IndexerConfig{}, indexer.Options{RunInMemory: true})
	t.Cleanup(func() { reg.Close(context.Background()) })
	_, err := reg.Register(&definition.Index{
		Name:   "Users",
		Fields: []string{"Name", "Age"},
		Stores: map[string]definition.Storage{"Name": definition.StorageYes},
		Maps: []definition.MapFunc{func(doc document.Document) ([]*document.Object, error) {
			return []*document.Object{doc.Data.Select("Name", "Age")}, nil
		}},
	})
	require.NoError(t, err)

	router := mux.NewRouter()
	New(reg, nil, nil, config.SearchConfig{DefaultPageSize: 10, MaxPageSize: 100}).RegisterRoutes(router)
	return router
}

func do(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPutAndQuery(t *testing.T) {
	router := newServer(t)
	rec := do(t, router, http.MethodPut, "/docs/users/1", `{"Name":"Oren","Age":30}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, router, http.MethodPut, "/docs/users/2", `{"Name":"Ayende","Age":40}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/indexes/Users/query?query=Age_Range:%5B35+TO+50%5D&fetch=Name", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Results []struct {
			Key        string         `json:"key"`
			Projection map[string]any `json:"projection"`
		} `json:"results"`
		TotalResults int `json:"totalResults"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalResults)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "users/2", resp.Results[0].Key)
	assert.Equal(t, "Ayende", resp.Results[0].Projection["Name"])

	rec = do(t, router, http.MethodDelete, "/docs/users/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, "/indexes/Users/query?query=Name:ayende", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.TotalResults)
	assert.Empty(t, resp.Results)
}

func TestQueryErrors(t *testing.T) {
	router := newServer(t)
	tests := map[string]struct {
		target string
		status int
	}{
		"unknown index":   {"/indexes/Nope/query?query=Name:oren", http.StatusNotFound},
		"unindexed field": {"/indexes/Users/query?query=Email:x", http.StatusBadRequest},
		"bad page size":   {"/indexes/Users/query?query=Name:oren&pageSize=abc", http.StatusBadRequest},
		"bad operator":    {"/indexes/Users/query?query=Name:oren&operator=XOR", http.StatusBadRequest},
		"bad highlight":   {"/indexes/Users/query?query=Name:oren&highlight=Name:x", http.StatusBadRequest},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAdminEndpoints(t *testing.T) {
	router := newServer(t)
	require.Equal(t, http.StatusOK, do(t, router, http.MethodPut, "/docs/users/1", `{"Name":"Oren"}`).Code)

	rec := do(t, router, http.MethodGet, "/indexes", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []indexer.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Users", list[0].Name)
	assert.Equal(t, 1, list[0].Documents)

	rec = do(t, router, http.MethodGet, "/indexes/Users/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, "/indexes/Users/errors", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPut, "/docs/users/2", `[1,2]`).Code)

	rec = do(t, router, http.MethodGet, "/cache/stats", "")
	assert.Contains(t, rec.Body.String(), "disabled")
}
