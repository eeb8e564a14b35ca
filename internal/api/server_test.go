package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pbaille/xmptags/internal/config"
	"github.com/pbaille/xmptags/internal/domain"
	"github.com/pbaille/xmptags/internal/importer"
	"github.com/pbaille/xmptags/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const sidecar = `<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">
 <rdf:Description xmlns:lr="http://ns.adobe.com/lightroom/1.0/">
  <lr:hierarchicalSubject><rdf:Bag><rdf:li>Places|Paris</rdf:li></rdf:Bag></lr:hierarchicalSubject>
 </rdf:Description>
</rdf:RDF>`

func newTestServer(t *testing.T) (*store.Store, http.Handler) {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "trip.xmp"), []byte(sidecar), 0644))
	_, err = s.AddEntry("trip.jpg")
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	im := importer.New(s, config.DefaultConfig().Import, logger)
	return s, New(s, im, ":0", logger).Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t)
	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestImportEndpoint(t *testing.T) {
	s, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/import", `{"dry_run":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var preview importer.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	assert.True(t, preview.DryRun)
	assert.Equal(t, 2, preview.TagsCreated)

	tags, err := s.ListTags()
	require.NoError(t, err)
	assert.Empty(t, tags)

	rec = do(t, h, http.MethodPost, "/import", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var report importer.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.TagsLinked)

	rec = do(t, h, http.MethodPost, "/import", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTagTree(t *testing.T) {
	_, h := newTestServer(t)
	require.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/import", "").Code)

	rec := do(t, h, http.MethodGet, "/tags", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tags []TagNode    `json:"tags"`
		Flat []domain.Tag `json:"flat"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Tags, 1)
	assert.Equal(t, "Places", body.Tags[0].Name)
	require.Len(t, body.Tags[0].Children, 1)
	assert.Equal(t, "Paris", body.Tags[0].Children[0].Name)
	assert.Len(t, body.Flat, 2)
}

func TestEntries(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/entries", `{"path":"more/other.jpg"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created domain.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "more/other.jpg", created.Path)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/entries", `{"path":" "}`).Code)

	rec = do(t, h, http.MethodGet, "/entries/"+created.ID[:8], "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.ID)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/entries/nope", "").Code)

	rec = do(t, h, http.MethodGet, "/entries?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"limit":1`)

	rec = do(t, h, http.MethodGet, "/search?q=other", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "more/other.jpg")
	assert.NotContains(t, rec.Body.String(), "trip.jpg")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/search", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/import", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBuildTreeOrphans(t *testing.T) {
	missing := "gone"
	tree := BuildTree([]domain.Tag{
		{ID: "1", Name: "root"},
		{ID: "2", Name: "orphan", ParentID: &missing},
	})
	require.Len(t, tree, 2)
	assert.Equal(t, "orphan", tree[1].Name)
}
