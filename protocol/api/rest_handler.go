// Package api exposes the query engine over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/guileen/kvql/catalog"
	"github.com/guileen/kvql/engine"
	qerrors "github.com/guileen/kvql/engine/errors"
	"github.com/guileen/kvql/logger"
	"github.com/guileen/kvql/metrics"
	"github.com/guileen/kvql/storage"
	"github.com/guileen/kvql/types"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

type RESTHandler struct {
	engine *engine.Engine
	store  storage.Client
}

func NewRESTHandler(eng *engine.Engine, store storage.Client) *RESTHandler {
	return &RESTHandler{engine: eng, store: store}
}

// Router returns a chi router with every route and middleware mounted.
func (h *RESTHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestContext)
	r.Use(middleware.Recoverer)
	r.Use(instrument)
	h.RegisterRoutes(r)
	return r
}

func (h *RESTHandler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", metrics.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Post("/query", h.Query)
		r.Get("/tables", h.ListTables)
		r.Put("/tables/{table}", h.PutTable)
		r.Delete("/tables/{table}", h.DropTable)
	})
}

type QueryRequest struct {
	Query string `json:"query"`
}

type FailedKey struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

type ErrorBody struct {
	Stage    string `json:"stage"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Position *int   `json:"position,omitempty"`
}

type QueryResponse struct {
	Status        string           `json:"status"`
	Columns       []string         `json:"columns"`
	Rows          [][]types.Value  `json:"rows"`
	Affected      []string         `json:"affected,omitempty"`
	SucceededKeys []string         `json:"succeeded_keys,omitempty"`
	FailedKeys    []FailedKey      `json:"failed_keys,omitempty"`
	Warnings      []string         `json:"warnings,omitempty"`
	Skipped       map[string]int64 `json:"skipped,omitempty"`
	Error         *ErrorBody       `json:"error,omitempty"`
}

type TablesResponse struct {
	Tables []catalog.TableDef `json:"tables"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func (h *RESTHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *RESTHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	res, err := h.engine.Query(r.Context(), req.Query, h.store)
	writeJSON(w, queryStatus(err), NewQueryResponse(res))
}

func (h *RESTHandler) ListTables(w http.ResponseWriter, r *http.Request) {
	reg := h.engine.Registry()
	snap := reg.Snapshot()
	resp := TablesResponse{Tables: []catalog.TableDef{}}
	for _, name := range snap.Tables() {
		if t, ok := snap.Lookup(name); ok {
			resp.Tables = append(resp.Tables, t.Def())
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RESTHandler) PutTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")

	var def catalog.TableDef
	if err := decodeBody(w, r, &def); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if def.Name != "" && def.Name != name {
		writeError(w, http.StatusBadRequest, fmt.Errorf("table name %q does not match path %q", def.Name, name))
		return
	}
	def.Name = name

	schema, err := h.engine.Registry().Register(def)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	logger.InfoContext(r.Context(), "Table registered",
		logger.Table(name),
		"key_pattern", schema.KeyPattern.String())
	writeJSON(w, http.StatusOK, schema.Def())
}

func (h *RESTHandler) DropTable(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "table")
	if !h.engine.Registry().Drop(name) {
		writeError(w, http.StatusNotFound, fmt.Errorf("table %q is not registered", name))
		return
	}
	logger.InfoContext(r.Context(), "Table dropped", logger.Table(name))
	w.WriteHeader(http.StatusNoContent)
}

// NewQueryResponse converts a query result to its JSON form.
func NewQueryResponse(res *types.QueryResult) QueryResponse {
	resp := QueryResponse{
		Status:        res.Status.String(),
		Columns:       res.Columns,
		Rows:          res.Rows,
		Affected:      res.Affected,
		SucceededKeys: res.SucceededKeys,
		Warnings:      res.Warnings,
		Skipped:       res.Skipped,
	}
	if resp.Columns == nil {
		resp.Columns = []string{}
	}
	if resp.Rows == nil {
		resp.Rows = [][]types.Value{}
	}
	for _, fk := range res.FailedKeys {
		msg := ""
		if fk.Err != nil {
			msg = fk.Err.Error()
		}
		resp.FailedKeys = append(resp.FailedKeys, FailedKey{Key: fk.Key, Error: msg})
	}
	if res.Err != nil {
		body := &ErrorBody{
			Stage:   string(res.Err.Stage),
			Code:    res.Err.Code,
			Message: res.Err.Error(),
		}
		if res.Err.Stage == qerrors.StageParse {
			pos := res.Err.Position
			body.Position = &pos
		}
		resp.Error = body
	}
	return resp
}

// queryStatus maps a query error to an HTTP status. PartialFailure is a 200
// whose body carries the failed keys.
func queryStatus(err error) int {
	e, ok := qerrors.As(err)
	if !ok {
		return http.StatusOK
	}
	switch e.Stage {
	case qerrors.StageParse, qerrors.StagePlan:
		return http.StatusBadRequest
	case qerrors.StageAggregate:
		return http.StatusUnprocessableEntity
	}
	switch e.Code {
	case qerrors.CodeCancelled:
		return http.StatusRequestTimeout
	case qerrors.CodeTransactionAborted:
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// requestContext copies chi's request ID into the logger context.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(logger.WithContextValue(r.Context(), logger.RequestIDKey, id))
		}
		next.ServeHTTP(w, r)
	})
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		metrics.RequestTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		logger.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"route", route,
			"status", status,
			logger.Duration("duration", elapsed))
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, statusCode int, err error) {
	writeJSON(w, statusCode, ErrorResponse{Error: err.Error()})
}
