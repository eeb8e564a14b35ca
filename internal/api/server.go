package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pbaille/xmptags/internal/domain"
	"github.com/pbaille/xmptags/internal/importer"
	"github.com/pbaille/xmptags/internal/store"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server handles HTTP requests for the tag library API
type Server struct {
	store    *store.Store
	importer *importer.Importer
	addr     string
	logger   *zap.Logger
}

// New creates a new API server
func New(s *store.Store, im *importer.Importer, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{store: s, importer: im, addr: addr, logger: logger}
}

// Handler returns the routed handler with CORS applied
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Entries
	mux.HandleFunc("GET /entries", s.listEntries)
	mux.HandleFunc("POST /entries", s.addEntry)
	mux.HandleFunc("GET /entries/{id}", s.getEntry)

	// Tags
	mux.HandleFunc("GET /tags", s.listTags)

	// Search
	mux.HandleFunc("GET /search", s.searchEntries)

	// Import
	mux.HandleFunc("POST /import", s.runImport)

	// Health check
	mux.HandleFunc("GET /health", s.health)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.logRequests(mux))
}

// Run starts the HTTP server
func (s *Server) Run() error {
	s.logger.Info("starting server", zap.String("addr", s.addr))
	return http.ListenAndServe(s.addr, s.Handler())
}

func (s *Server) logRequests(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		h.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AddEntryRequest is the request body for registering a file
type AddEntryRequest struct {
	Path string `json:"path"`
}

func (s *Server) addEntry(w http.ResponseWriter, r *http.Request) {
	var req AddEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	entry, err := s.store.AddEntry(req.Path)
	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) getEntry(w http.ResponseWriter, r *http.Request) {
	// Support prefix matching
	entry, err := s.store.FindEntryByPrefix(r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) listEntries(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}

	entries, err := s.store.ListEntries(limit, offset)
	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

// TagNode represents a tag with its children for hierarchical display
type TagNode struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Aliases  []string  `json:"aliases,omitempty"`
	Children []TagNode `json:"children,omitempty"`
}

// BuildTree arranges tags by parent; tags whose parent is unknown become roots
func BuildTree(tags []domain.Tag) []TagNode {
	tagMap := make(map[string]domain.Tag)
	for _, t := range tags {
		tagMap[t.ID] = t
	}

	children := make(map[string][]string)
	var rootIDs []string
	for _, t := range tags {
		if t.ParentID == nil {
			rootIDs = append(rootIDs, t.ID)
			continue
		}
		if _, ok := tagMap[*t.ParentID]; !ok {
			rootIDs = append(rootIDs, t.ID)
			continue
		}
		children[*t.ParentID] = append(children[*t.ParentID], t.ID)
	}

	var buildNode func(id string) TagNode
	buildNode = func(id string) TagNode {
		t := tagMap[id]
		node := TagNode{ID: t.ID, Name: t.Name, Aliases: t.Aliases}
		for _, childID := range children[id] {
			node.Children = append(node.Children, buildNode(childID))
		}
		return node
	}

	var tree []TagNode
	for _, rootID := range rootIDs {
		tree = append(tree, buildNode(rootID))
	}
	return tree
}

func (s *Server) listTags(w http.ResponseWriter, r *http.Request) {
	tags, err := s.store.ListTags()
	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tags": BuildTree(tags),
		"flat": tags,
	})
}

func (s *Server) searchEntries(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}

	entries, err := s.store.SearchEntries(query)
	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"query":   query,
	})
}

// ImportRequest is the request body for an import run
type ImportRequest struct {
	DryRun   bool `json:"dry_run"`
	NoCreate bool `json:"no_create"`
}

func (s *Server) runImport(w http.ResponseWriter, r *http.Request) {
	// An empty body runs a plain import
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	report, err := s.importer.Run(r.Context(), importer.Options{
		DryRun:   req.DryRun,
		NoCreate: req.NoCreate,
	})
	if err != nil {
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
