package httpd

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prismsearch/prism/internal/collection"
	"github.com/prismsearch/prism/internal/schema"
	"github.com/prismsearch/prism/pkg/apperr"
	"github.com/prismsearch/prism/pkg/logger"
)

type createCollectionRequest struct {
	Name              string         `json:"name"`
	Fields            []schema.Field `json:"fields"`
	TokenRankingField string         `json:"token_ranking_field"`
}

type collectionInfo struct {
	Name              string         `json:"name"`
	Fields            []schema.Field `json:"fields"`
	TokenRankingField string         `json:"token_ranking_field,omitempty"`
	NumDocuments      int            `json:"num_documents"`
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.BadRequest("Bad JSON."))
		return
	}
	coll, err := s.manager.Create(req.Name, req.Fields, req.TokenRankingField)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, collectionInfo{
		Name:              coll.Name(),
		Fields:            coll.Schema(),
		TokenRankingField: coll.TokenRankingField(),
	})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	names := s.manager.Names()
	infos := make([]collectionInfo, 0, len(names))
	for _, name := range names {
		coll, err := s.manager.Get(name)
		if err != nil {
			continue
		}
		infos = append(infos, collectionInfo{
			Name:              coll.Name(),
			Fields:            coll.Schema(),
			TokenRankingField: coll.TokenRankingField(),
			NumDocuments:      coll.NumDocuments(),
		})
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	coll, err := s.manager.Get(r.PathValue("collection"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collectionInfo{
		Name:              coll.Name(),
		Fields:            coll.Schema(),
		TokenRankingField: coll.TokenRankingField(),
		NumDocuments:      coll.NumDocuments(),
	})
}

func (s *Server) handleDropCollection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")
	if err := s.manager.Drop(name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	coll, err := s.manager.Get(r.PathValue("collection"))
	if err != nil {
		writeError(w, err)
		return
	}
	body, rerr := io.ReadAll(r.Body)
	if rerr != nil {
		writeError(w, apperr.BadRequest("Could not read request body."))
		return
	}
	id, err := coll.Add(string(body))
	if err != nil {
		writeError(w, err)
		return
	}
	s.metrics.DocsIndexedTotal.WithLabelValues(coll.Name()).Inc()
	s.updateShardGauges(coll)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	coll, err := s.manager.Get(r.PathValue("collection"))
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := coll.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	coll, err := s.manager.Get(r.PathValue("collection"))
	if err != nil {
		writeError(w, err)
		return
	}
	id := r.PathValue("id")
	if err := coll.Remove(id, true); err != nil {
		writeError(w, err)
		return
	}
	s.metrics.DocsRemovedTotal.WithLabelValues(coll.Name()).Inc()
	s.updateShardGauges(coll)
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	coll, err := s.manager.Get(r.PathValue("collection"))
	if err != nil {
		writeError(w, err)
		return
	}
	req, err := s.parseSearchRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	started := time.Now()
	var result *collection.SearchResult
	cached := false
	if s.cache != nil {
		result, cached, err = s.cache.GetOrCompute(r.Context(), coll.Name(), *req, func() (*collection.SearchResult, error) {
			return coll.Search(r.Context(), *req)
		})
	} else {
		result, err = coll.Search(r.Context(), *req)
	}
	s.observeSearch(coll.Name(), started, result, err)
	if err != nil {
		writeError(w, err)
		return
	}
	logger.FromContext(r.Context()).Debug("search served",
		"collection", coll.Name(),
		"query", req.Query,
		"found", result.Found,
		"cached", cached,
	)
	writeJSON(w, http.StatusOK, result)
}

// parseSearchRequest lowers query-string parameters into a SearchRequest.
// Unset numeric knobs fall back to the configured search defaults.
func (s *Server) parseSearchRequest(r *http.Request) (*collection.SearchRequest, error) {
	q := r.URL.Query()
	req := &collection.SearchRequest{
		Query:        q.Get("q"),
		SearchFields: splitList(q.Get("query_by")),
		FilterQuery:  q.Get("filter_by"),
		FacetFields:  splitList(q.Get("facet_by")),
		NumTypos:     s.cfg.Search.DefaultTypos,
		PerPage:      s.cfg.Search.DefaultPerPage,
		Page:         1,
		TokenOrder:   q.Get("token_order"),
	}
	for _, part := range splitList(q.Get("sort_by")) {
		name, order, found := strings.Cut(part, ":")
		if !found {
			return nil, apperr.BadRequest("Sort clause `%s` must be of the form field:asc or field:desc.", part)
		}
		req.SortFields = append(req.SortFields, collection.SortByField{Name: name, Order: order})
	}
	var err error
	if req.NumTypos, err = intParam(q.Get("num_typos"), req.NumTypos); err != nil {
		return nil, apperr.BadRequest("Parameter `num_typos` must be an integer.")
	}
	if req.PerPage, err = intParam(q.Get("per_page"), req.PerPage); err != nil {
		return nil, apperr.BadRequest("Parameter `per_page` must be an integer.")
	}
	if req.Page, err = intParam(q.Get("page"), req.Page); err != nil {
		return nil, apperr.BadRequest("Parameter `page` must be an integer.")
	}
	if v := q.Get("prefix"); v != "" {
		req.Prefix = v == "true" || v == "1"
	}
	return req, nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func intParam(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, apperr.StatusCode(err), map[string]string{"message": err.Error()})
}
