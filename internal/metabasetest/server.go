// Package metabasetest provides an in-memory fake of the parts of the Metabase API used by the provisioner.
package metabasetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/flovouin/metabase-provisioner/metabase"
)

// The password accepted by the fake session endpoint.
const Password = "password"

// A request received by the fake server.
type Request struct {
	Method string
	Path   string
}

// A table created in every database connected to the fake server. Field and table IDs are attributed when the
// database is created, such that two databases never share IDs.
type TableTemplate struct {
	Name   string
	Fields []string
}

// An in-memory Metabase API.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	nextId   int
	objects  map[string]map[int]map[string]any // Objects by type, then ID.
	tables   map[int][]metabase.Table          // Tables by database ID.
	requests []Request

	Dashcards            map[int][]map[string]any // Cards placed on dashboards, by dashboard ID.
	PermissionsGraph     metabase.PermissionsGraph
	CollectionGraph      metabase.CollectionPermissionsGraph
	Settings             map[string]any
	LdapSettings         map[string]any
	Logs                 []metabase.LogEntry
	SchemaTemplate       []TableTemplate // The tables created along with each database.
	DuplicateKeyFailures int             // The number of upcoming creations that will fail with a "duplicate key" error.
	LogSyncCompletion    bool            // Whether a log entry is added when a schema synchronisation is triggered.
}

// The object types stored generically, with the endpoint they are served under.
var objectEndpoints = map[string]string{
	"group":      "/api/permissions/group",
	"database":   "/api/database",
	"collection": "/api/collection",
	"dashboard":  "/api/dashboard",
	"card":       "/api/card",
	"user":       "/api/user",
}

// Starts a new fake server, seeded with the built-in groups. The server is closed when the test ends.
func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		nextId:            100,
		objects:           make(map[string]map[int]map[string]any),
		tables:            make(map[int][]metabase.Table),
		Dashcards:         make(map[int][]map[string]any),
		PermissionsGraph:  metabase.PermissionsGraph{Revision: 1, Groups: map[string]map[string]any{}},
		CollectionGraph:   metabase.CollectionPermissionsGraph{Revision: 1, Groups: map[string]map[string]any{}},
		Settings:          make(map[string]any),
		LogSyncCompletion: true,
	}
	for t := range objectEndpoints {
		s.objects[t] = make(map[int]map[string]any)
	}
	s.objects["group"][1] = map[string]any{"id": 1, "name": "All Users"}
	s.objects["group"][2] = map[string]any{"id": 2, "name": "Administrators"}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/session", s.handleSession)
	for objectType, endpoint := range objectEndpoints {
		mux.HandleFunc("GET "+endpoint, s.handleList(objectType))
		mux.HandleFunc("POST "+endpoint, s.handleCreate(objectType))
		mux.HandleFunc("GET "+endpoint+"/{id}", s.handleGet(objectType))
		mux.HandleFunc("PUT "+endpoint+"/{id}", s.handleUpdate(objectType))
		mux.HandleFunc("DELETE "+endpoint+"/{id}", s.handleDelete(objectType))
	}
	mux.HandleFunc("POST /api/dashboard/{id}/cards", s.handleAddDashcard)
	mux.HandleFunc("POST /api/database/{id}/sync_schema", s.handleSync)
	mux.HandleFunc("GET /api/util/logs", s.handleLogs)
	mux.HandleFunc("GET /api/permissions/graph", s.handleGetGraph(&s.PermissionsGraph.Revision, &s.PermissionsGraph.Groups))
	mux.HandleFunc("PUT /api/permissions/graph", s.handlePutGraph(&s.PermissionsGraph.Revision, &s.PermissionsGraph.Groups))
	mux.HandleFunc("GET /api/collection/graph", s.handleGetGraph(&s.CollectionGraph.Revision, &s.CollectionGraph.Groups))
	mux.HandleFunc("PUT /api/collection/graph", s.handlePutGraph(&s.CollectionGraph.Revision, &s.CollectionGraph.Groups))
	mux.HandleFunc("PUT /api/setting/{key}", s.handleSetting)
	mux.HandleFunc("PUT /api/ldap/settings", s.handleLdap)

	s.Server = httptest.NewServer(s.record(mux))
	t.Cleanup(s.Server.Close)

	return s
}

// Records every request before passing it to the handler.
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path})
		s.mu.Unlock()

		next.ServeHTTP(w, r)
	})
}

func writeJson(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJson(r *http.Request) (map[string]any, error) {
	body := make(map[string]any)
	if r.ContentLength == 0 {
		return body, nil
	}
	err := json.NewDecoder(r.Body).Decode(&body)
	return body, err
}

// Returns a copy of the object with a normalised JSON representation (numbers as float64).
func normalise(v any) map[string]any {
	b, _ := json.Marshal(v)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	body, err := readJson(r)
	if err != nil || body["password"] != Password {
		writeJson(w, http.StatusUnauthorized, map[string]any{"errors": map[string]any{"password": "did not match stored password"}})
		return
	}
	writeJson(w, http.StatusOK, map[string]any{"id": "fake-session"})
}

// Returns the objects of a type sorted by ID.
func (s *Server) sortedObjects(objectType string) []map[string]any {
	objects := make([]map[string]any, 0, len(s.objects[objectType]))
	for _, o := range s.objects[objectType] {
		objects = append(objects, o)
	}
	sort.Slice(objects, func(i, j int) bool {
		return objects[i]["id"].(int) < objects[j]["id"].(int)
	})
	return objects
}

func (s *Server) handleList(objectType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		objects := s.sortedObjects(objectType)
		switch objectType {
		case "database", "user":
			writeJson(w, http.StatusOK, map[string]any{"data": objects, "total": len(objects)})
		case "collection":
			writeJson(w, http.StatusOK, append([]map[string]any{{"id": "root", "name": "Our analytics"}}, objects...))
		default:
			writeJson(w, http.StatusOK, objects)
		}
	}
}

func (s *Server) handleCreate(objectType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readJson(r)
		if err != nil {
			writeJson(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if s.DuplicateKeyFailures > 0 {
			s.DuplicateKeyFailures--
			writeJson(w, http.StatusInternalServerError, map[string]any{
				"message": `ERROR: duplicate key value violates unique constraint "report_dashboard_pkey"`,
			})
			return
		}

		s.nextId++
		id := s.nextId
		body["id"] = id
		delete(body, "password")
		s.objects[objectType][id] = body

		if objectType == "database" {
			s.createTables(id)
		}

		writeJson(w, http.StatusOK, body)
	}
}

// Creates the tables of a new database from the schema template.
func (s *Server) createTables(databaseId int) {
	tables := make([]metabase.Table, 0, len(s.SchemaTemplate))
	for _, tt := range s.SchemaTemplate {
		s.nextId++
		table := metabase.Table{Id: s.nextId, DbId: databaseId, Name: tt.Name}
		for _, f := range tt.Fields {
			s.nextId++
			table.Fields = append(table.Fields, metabase.Field{Id: s.nextId, Name: f, TableId: table.Id})
		}
		tables = append(tables, table)
	}
	s.tables[databaseId] = tables
}

// Returns the object identified in the request path, writing a 404 if it does not exist.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request, objectType string) (int, map[string]any, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJson(w, http.StatusNotFound, "Not found.")
		return 0, nil, false
	}

	obj, ok := s.objects[objectType][id]
	if !ok {
		writeJson(w, http.StatusNotFound, "Not found.")
		return 0, nil, false
	}

	return id, obj, true
}

func (s *Server) handleGet(objectType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		id, obj, ok := s.lookup(w, r, objectType)
		if !ok {
			return
		}

		response := normalise(obj)
		switch objectType {
		case "database":
			if strings.Contains(r.URL.RawQuery, "tables") {
				response["tables"] = s.tables[id]
			}
		case "dashboard":
			dashcards := s.Dashcards[id]
			if dashcards == nil {
				dashcards = []map[string]any{}
			}
			response["dashcards"] = dashcards
		}

		writeJson(w, http.StatusOK, response)
	}
}

func (s *Server) handleUpdate(objectType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readJson(r)
		if err != nil {
			writeJson(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		id, obj, ok := s.lookup(w, r, objectType)
		if !ok {
			return
		}

		for k, v := range body {
			if k == "password" {
				continue
			}
			obj[k] = v
		}
		obj["id"] = id

		writeJson(w, http.StatusOK, obj)
	}
}

func (s *Server) handleDelete(objectType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		id, _, ok := s.lookup(w, r, objectType)
		if !ok {
			return
		}

		delete(s.objects[objectType], id)
		if objectType == "dashboard" {
			delete(s.Dashcards, id)
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleAddDashcard(w http.ResponseWriter, r *http.Request) {
	body, err := readJson(r)
	if err != nil {
		writeJson(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, _, ok := s.lookup(w, r, "dashboard")
	if !ok {
		return
	}

	dashcard := map[string]any{
		"col":                    body["col"],
		"row":                    body["row"],
		"size_x":                 body["sizeX"],
		"size_y":                 body["sizeY"],
		"card_id":                body["cardId"],
		"series":                 body["series"],
		"visualization_settings": body["visualization_settings"],
	}
	if cardId, ok := body["cardId"].(float64); ok {
		if card, ok := s.objects["card"][int(cardId)]; ok {
			dashcard["card"] = normalise(card)
		}
	}

	s.nextId++
	dashcard["id"] = s.nextId
	s.Dashcards[id] = append(s.Dashcards[id], dashcard)

	writeJson(w, http.StatusOK, dashcard)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, obj, ok := s.lookup(w, r, "database")
	if !ok {
		return
	}

	if s.LogSyncCompletion {
		s.Logs = append(s.Logs, metabase.LogEntry{
			Level: "INFO",
			Msg:   fmt.Sprintf("FINISHED: Sync postgres Database %d '%s' (1.2 s)", id, obj["name"]),
		})
	}

	writeJson(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs := s.Logs
	if logs == nil {
		logs = []metabase.LogEntry{}
	}
	writeJson(w, http.StatusOK, logs)
}

func (s *Server) handleGetGraph(revision *int, groups *map[string]map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		writeJson(w, http.StatusOK, map[string]any{"revision": *revision, "groups": *groups})
	}
}

func (s *Server) handlePutGraph(revision *int, groups *map[string]map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body metabase.PermissionsGraph
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJson(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()

		if body.Revision != *revision {
			writeJson(w, http.StatusConflict, map[string]any{"message": "Looks like someone else edited the permissions"})
			return
		}

		*revision++
		*groups = body.Groups

		writeJson(w, http.StatusOK, map[string]any{"revision": *revision, "groups": *groups})
	}
}

func (s *Server) handleSetting(w http.ResponseWriter, r *http.Request) {
	body, err := readJson(r)
	if err != nil {
		writeJson(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Settings[r.PathValue("key")] = body["value"]
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLdap(w http.ResponseWriter, r *http.Request) {
	body, err := readJson(r)
	if err != nil {
		writeJson(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.LdapSettings = body
	w.WriteHeader(http.StatusNoContent)
}

// Adds an object directly to the server, bypassing the API. Returns the ID of the object.
func (s *Server) Seed(objectType string, obj map[string]any) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextId++
	id := s.nextId
	obj["id"] = id
	s.objects[objectType][id] = obj

	if objectType == "database" {
		s.createTables(id)
	}

	return id
}

// Returns the objects of a type, sorted by ID.
func (s *Server) Objects(objectType string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects := s.sortedObjects(objectType)
	copies := make([]map[string]any, 0, len(objects))
	for _, o := range objects {
		copies = append(copies, normalise(o))
	}
	return copies
}

// Returns the names of the objects of a type, sorted.
func (s *Server) Names(objectType string) []string {
	names := make([]string, 0)
	for _, o := range s.Objects(objectType) {
		names = append(names, fmt.Sprint(o["name"]))
	}
	sort.Strings(names)
	return names
}

// Returns the ID of the first object of a type with the given name, or 0.
func (s *Server) IdOf(objectType string, name string) int {
	for _, o := range s.Objects(objectType) {
		if o["name"] == name {
			return int(o["id"].(float64))
		}
	}
	return 0
}

// Returns the tables of a database.
func (s *Server) Tables(databaseId int) []metabase.Table {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tables[databaseId]
}

// Returns the requests received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Request(nil), s.requests...)
}

// Counts the requests received with the given method, whose path starts with the given prefix.
func (s *Server) CountRequests(method string, pathPrefix string) int {
	count := 0
	for _, r := range s.Requests() {
		if r.Method == method && strings.HasPrefix(r.Path, pathPrefix) {
			count++
		}
	}
	return count
}

// Clears the recorded requests.
func (s *Server) ResetRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = nil
}
