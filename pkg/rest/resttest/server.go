// Package resttest runs an in memory stand-in for the backend's REST and storage APIs.
// It understands the subset of the PostgREST dialect the backends send.
package resttest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/soapboxsocial/glimpse/pkg/conf"
)

const objectMediaType = "application/vnd.pgrst.object+json"

// Row is a stored record.
type Row map[string]interface{}

// Relation describes how an embedded resource is resolved for a table.
type Relation struct {
	Table         string
	LocalColumn   string
	ForeignColumn string

	// Many renders the embed as an array, as the backend does for one-to-many relationships.
	Many bool
}

type hold struct {
	column string
	value  string
	ch     chan struct{}
}

type failure struct {
	status  int
	code    string
	message string
}

// Server is a fake backend.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	tables    map[string][]Row
	unique    map[string][][]string
	relations map[string]map[string]Relation
	failures  map[string]failure
	objects   map[string][]byte
	requests  map[string]int
	holds     map[string]hold

	// Now stamps created_at on inserted rows.
	Now func() time.Time
}

// NewServer starts a fake backend, callers must Close it.
func NewServer() *Server {
	s := &Server{
		tables:    make(map[string][]Row),
		unique:    make(map[string][][]string),
		relations: make(map[string]map[string]Relation),
		failures:  make(map[string]failure),
		objects:   make(map[string][]byte),
		requests:  make(map[string]int),
		holds:     make(map[string]hold),
		Now:       time.Now,
	}

	r := mux.NewRouter()
	r.HandleFunc("/rest/v1/{table}", s.handleTable)
	r.HandleFunc("/storage/v1/object/public/{bucket}/{path:.*}", s.handlePublicObject).Methods("GET")
	r.HandleFunc("/storage/v1/object/{bucket}", s.handleRemoveObjects).Methods("DELETE")
	r.HandleFunc("/storage/v1/object/{bucket}/{path:.*}", s.handleUpload).Methods("POST", "PUT")

	s.Server = httptest.NewServer(r)
	return s
}

// Config returns a backend configuration pointing at the server.
func (s *Server) Config() conf.BackendConf {
	return conf.BackendConf{URL: s.URL, AnonKey: "anon"}
}

// Unique declares a uniqueness constraint over columns of table.
func (s *Server) Unique(table string, columns ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unique[table] = append(s.unique[table], columns)
}

// Relate declares an embeddable resource of table, addressable in a select by name
// or by the foreign key hint that follows the "!".
func (s *Server) Relate(table, name string, rel Relation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.relations[table] == nil {
		s.relations[table] = make(map[string]Relation)
	}

	s.relations[table][name] = rel
}

// Seed stores rows as they are.
func (s *Server) Seed(table string, rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		s.tables[table] = append(s.tables[table], copyRow(r))
	}
}

// Rows returns a copy of every row in table.
func (s *Server) Rows(table string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]Row, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		result = append(result, copyRow(r))
	}

	return result
}

// FailNext makes the next request on table fail with the given postgres or PGRST code.
func (s *Server) FailNext(table string, status int, code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[table] = failure{status: status, code: code, message: message}
}

// Requests returns how many requests were made against table with method.
func (s *Server) Requests(method, table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.requests[method+" "+table]
}

// Hold blocks requests on table filtering column by value until release is called.
func (s *Server) Hold(table, column, value string) (release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := hold{column: column, value: value, ch: make(chan struct{})}
	s.holds[table] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.holds[table].ch == h.ch {
				delete(s.holds, table)
			}
			s.mu.Unlock()

			close(h.ch)
		})
	}
}

// Object returns a stored object.
func (s *Server) Object(bucket, path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[bucket+"/"+path]
	return data, ok
}

func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]

	s.mu.Lock()
	h, held := s.holds[table]
	s.mu.Unlock()

	if held && r.URL.Query().Get(h.column) == "eq."+h.value {
		select {
		case <-h.ch:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests[r.Method+" "+table]++

	if f, ok := s.failures[table]; ok {
		delete(s.failures, table)
		writeError(w, f.status, f.code, f.message)
		return
	}

	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST100", err.Error())
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.read(w, r, table, q)
	case http.MethodPost:
		s.insert(w, r, table, q)
	case http.MethodPatch:
		s.update(w, r, table, q)
	case http.MethodDelete:
		s.delete(w, r, table, q)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) read(w http.ResponseWriter, r *http.Request, table string, q *query) {
	matched := s.match(table, q.filters)
	total := len(matched)

	sortRows(matched, q.order)
	matched = window(matched, q.offset, q.limit)

	rendered, err := s.render(table, matched, q.sel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST200", err.Error())
		return
	}

	if strings.Contains(r.Header.Get("Prefer"), "count=exact") {
		w.Header().Set("Content-Range", contentRange(q.offset, len(rendered), total))
	}

	s.respond(w, r, http.StatusOK, rendered)
}

func (s *Server) insert(w http.ResponseWriter, r *http.Request, table string, q *query) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST102", err.Error())
		return
	}

	rows, err := decodeBody(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST102", err.Error())
		return
	}

	upsert := strings.Contains(r.Header.Get("Prefer"), "resolution=merge-duplicates")

	created := make([]Row, 0, len(rows))
	for _, row := range rows {
		if _, ok := row["id"]; !ok {
			row["id"] = uuid.New().String()
		}

		if _, ok := row["created_at"]; !ok {
			row["created_at"] = s.Now().UTC().Format(time.RFC3339Nano)
		}

		idx := s.conflicting(table, row, -1)
		if idx >= 0 && !upsert {
			writeError(w, http.StatusConflict, "23505", "duplicate key value violates unique constraint")
			return
		}

		if idx >= 0 {
			for k, v := range row {
				s.tables[table][idx][k] = v
			}

			created = append(created, copyRow(s.tables[table][idx]))
			continue
		}

		s.tables[table] = append(s.tables[table], row)
		created = append(created, copyRow(row))
	}

	s.represent(w, r, http.StatusCreated, table, created, q)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request, table string, q *query) {
	values := Row{}
	err := json.NewDecoder(r.Body).Decode(&values)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST102", err.Error())
		return
	}

	for i, row := range s.tables[table] {
		if !matches(row, q.filters) {
			continue
		}

		merged := copyRow(row)
		for k, v := range values {
			merged[k] = v
		}

		if s.conflicting(table, merged, i) >= 0 {
			writeError(w, http.StatusConflict, "23505", "duplicate key value violates unique constraint")
			return
		}
	}

	updated := make([]Row, 0)
	for _, row := range s.tables[table] {
		if !matches(row, q.filters) {
			continue
		}

		for k, v := range values {
			row[k] = v
		}

		updated = append(updated, copyRow(row))
	}

	s.represent(w, r, http.StatusOK, table, updated, q)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request, table string, q *query) {
	kept := make([]Row, 0, len(s.tables[table]))
	deleted := make([]Row, 0)

	for _, row := range s.tables[table] {
		if matches(row, q.filters) {
			deleted = append(deleted, row)
			continue
		}

		kept = append(kept, row)
	}

	s.tables[table] = kept
	s.represent(w, r, http.StatusOK, table, deleted, q)
}

func (s *Server) represent(w http.ResponseWriter, r *http.Request, status int, table string, rows []Row, q *query) {
	if !strings.Contains(r.Header.Get("Prefer"), "return=representation") {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	rendered, err := s.render(table, rows, q.sel)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PGRST200", err.Error())
		return
	}

	s.respond(w, r, status, rendered)
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, rows []Row) {
	w.Header().Set("Content-Type", "application/json")

	if strings.Contains(r.Header.Get("Accept"), objectMediaType) {
		if len(rows) != 1 {
			writeError(w, http.StatusNotAcceptable, "PGRST116", "JSON object requested, multiple (or no) rows returned")
			return
		}

		w.WriteHeader(status)
		if r.Method != http.MethodHead {
			_ = json.NewEncoder(w).Encode(rows[0])
		}

		return
	}

	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_ = json.NewEncoder(w).Encode(rows)
	}
}

func (s *Server) match(table string, filters []filter) []Row {
	result := make([]Row, 0)
	for _, row := range s.tables[table] {
		if matches(row, filters) {
			result = append(result, copyRow(row))
		}
	}

	return result
}

// conflicting returns the index of a row other than skip that row would duplicate, or -1.
func (s *Server) conflicting(table string, row Row, skip int) int {
	for _, columns := range s.unique[table] {
		for i, existing := range s.tables[table] {
			if i == skip {
				continue
			}

			same := true
			for _, c := range columns {
				if fmt.Sprint(existing[c]) != fmt.Sprint(row[c]) {
					same = false
					break
				}
			}

			if same {
				return i
			}
		}
	}

	return -1
}

func (s *Server) render(table string, rows []Row, sel []column) ([]Row, error) {
	result := make([]Row, 0, len(rows))

	for _, row := range rows {
		out := Row{}

		for _, c := range sel {
			switch {
			case c.name == "*":
				for k, v := range row {
					out[k] = v
				}
			case c.embed == nil:
				out[c.name] = row[c.name]
			default:
				rel, ok := s.relations[table][c.hint]
				if !ok {
					rel, ok = s.relations[table][c.name]
				}

				if !ok {
					return nil, fmt.Errorf("could not find a relationship between '%s' and '%s'", table, c.name)
				}

				related := make([]Row, 0)
				for _, candidate := range s.tables[rel.Table] {
					if fmt.Sprint(candidate[rel.ForeignColumn]) == fmt.Sprint(row[rel.LocalColumn]) {
						related = append(related, candidate)
					}
				}

				embedded, err := s.render(rel.Table, related, c.embed)
				if err != nil {
					return nil, err
				}

				key := c.name
				if c.alias != "" {
					key = c.alias
				}

				switch {
				case rel.Many:
					out[key] = embedded
				case len(embedded) == 0:
					out[key] = nil
				default:
					out[key] = embedded[0]
				}
			}
		}

		result = append(result, out)
	}

	return result, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := vars["bucket"] + "/" + vars["path"]

	data, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests[r.Method+" storage"]++

	if f, ok := s.failures["storage"]; ok {
		delete(s.failures, "storage")
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(map[string]string{"statusCode": strconv.Itoa(f.status), "error": f.code, "message": f.message})
		return
	}

	_, exists := s.objects[key]
	if exists && r.Method == http.MethodPost && r.Header.Get("x-upsert") != "true" {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"statusCode": "409", "error": "Duplicate", "message": "The resource already exists"})
		return
	}

	s.objects[key] = data

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"Key": key})
}

func (s *Server) handleRemoveObjects(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]

	body := struct {
		Prefixes []string `json:"prefixes"`
	}{}

	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests[r.Method+" storage"]++

	if f, ok := s.failures["storage"]; ok {
		delete(s.failures, "storage")
		w.WriteHeader(f.status)
		_ = json.NewEncoder(w).Encode(map[string]string{"statusCode": strconv.Itoa(f.status), "error": f.code, "message": f.message})
		return
	}

	removed := make([]map[string]string, 0)
	for _, p := range body.Prefixes {
		if _, ok := s.objects[bucket+"/"+p]; ok {
			delete(s.objects, bucket+"/"+p)
			removed = append(removed, map[string]string{"name": p})
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(removed)
}

func (s *Server) handlePublicObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	data, ok := s.Object(vars["bucket"], vars["path"])
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    code,
		"message": message,
		"details": nil,
		"hint":    nil,
	})
}

func decodeBody(body []byte) ([]Row, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		rows := make([]Row, 0)
		err := json.Unmarshal(body, &rows)
		return rows, err
	}

	row := Row{}
	err := json.Unmarshal(body, &row)
	if err != nil {
		return nil, err
	}

	return []Row{row}, nil
}

func contentRange(offset, n, total int) string {
	if n == 0 {
		return fmt.Sprintf("*/%d", total)
	}

	return fmt.Sprintf("%d-%d/%d", offset, offset+n-1, total)
}

func window(rows []Row, offset, limit int) []Row {
	if offset >= len(rows) {
		return []Row{}
	}

	rows = rows[offset:]
	if limit >= 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	return rows
}

func sortRows(rows []Row, order []ordering) {
	if len(order) == 0 {
		return
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			c := compare(rows[i][o.column], rows[j][o.column])
			if c == 0 {
				continue
			}

			if o.desc {
				return c > 0
			}

			return c < 0
		}

		return false
	})
}

func copyRow(r Row) Row {
	c := make(Row, len(r))
	for k, v := range r {
		c[k] = v
	}

	return c
}
