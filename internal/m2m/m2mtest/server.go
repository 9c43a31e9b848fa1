// Package m2mtest provides an in-process catalog service for tests.
//
// The server implements the envelope protocol, token authentication, and
// in-memory scene lists. Download endpoints answer with empty results
// unless a test scripts them with Handle or Respond:
//
//	srv := m2mtest.NewServer()
//	defer srv.Close()
//
//	srv.Handle("download-retrieve", func(req m2mtest.Request) (any, *m2mtest.Failure) {
//	    if req.N == 1 {
//	        return m2mtest.Retrieve(nil, nil), nil
//	    }
//	    return m2mtest.Retrieve([]m2mtest.Download{{ID: 55, URL: url}}, nil), nil
//	})
package m2mtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
)

// APIPrefix is the path under which the JSON endpoints are served.
const APIPrefix = "/api/json/stable"

// UnknownLength makes a file be served without a Content-Length header.
const UnknownLength = -1

// Failure is an error envelope returned by a handler.
type Failure struct {
	Status  int
	Code    string
	Message string
}

// Request is one decoded call to a JSON endpoint.
type Request struct {
	Endpoint string
	Body     map[string]any
	Token    string

	// N is the 1-based number of this call among calls to Endpoint.
	N int
}

// String returns the string member key of the body, or "".
func (r Request) String(key string) string {
	s, _ := r.Body[key].(string)
	return s
}

// Strings returns the string array member key of the body.
func (r Request) Strings(key string) []string {
	raw, _ := r.Body[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Handler answers one endpoint. A non-nil Failure is sent as an error envelope.
type Handler func(req Request) (any, *Failure)

// Call records a request received by the server.
type Call struct {
	Endpoint string
	Body     map[string]any
	Token    string
}

// File is a download served under /files/.
type File struct {
	Data []byte

	// Length is the declared Content-Length. It may differ from len(Data)
	// to simulate a truncated transfer, or be UnknownLength.
	Length int64
}

// Server is a fake catalog service.
type Server struct {
	*httptest.Server

	// Accepted credentials and the token issued on login.
	Username string
	Password string
	Token    string
	APIKey   string

	mu       sync.Mutex
	datasets []string
	loggedIn bool
	handlers map[string]Handler
	calls    []Call
	counts   map[string]int
	lists    map[string][]string
	files    map[string]File
	fileHits map[string]int
}

// NewServer starts a server with default credentials and two datasets.
func NewServer() *Server {
	s := &Server{
		Username: "user",
		Password: "secret",
		Token:    "app-token",
		APIKey:   "api-key-1",
		datasets: []string{"landsat_tm_c2_l1", "landsat_ot_c2_l2"},
		handlers: make(map[string]Handler),
		counts:   make(map[string]int),
		lists:    make(map[string][]string),
		files:    make(map[string]File),
		fileHits: make(map[string]int),
	}

	r := mux.NewRouter()
	r.HandleFunc(APIPrefix+"/{endpoint}", s.serveAPI).Methods(http.MethodPost)
	r.HandleFunc("/files/{name}", s.serveFile).Methods(http.MethodGet)

	s.Server = httptest.NewServer(r)
	return s
}

// ServiceURL is the base URL to hand to a session.
func (s *Server) ServiceURL() string {
	return s.URL + APIPrefix
}

// SetDatasets replaces the dataset aliases returned by dataset-search.
func (s *Server) SetDatasets(aliases ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets = append([]string(nil), aliases...)
}

// Handle overrides the behaviour of endpoint.
func (s *Server) Handle(endpoint string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[endpoint] = h
}

// Respond makes endpoint always return data.
func (s *Server) Respond(endpoint string, data any) {
	s.Handle(endpoint, func(Request) (any, *Failure) { return data, nil })
}

// Fail makes endpoint always return f.
func (s *Server) Fail(endpoint string, f Failure) {
	s.Handle(endpoint, func(Request) (any, *Failure) { return nil, &f })
}

// Calls returns the recorded calls, limited to endpoints if any are given.
func (s *Server) Calls(endpoints ...string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Call
	for _, c := range s.calls {
		if len(endpoints) == 0 {
			out = append(out, c)
			continue
		}
		for _, e := range endpoints {
			if c.Endpoint == e {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// CallCount returns how many times endpoint was called.
func (s *Server) CallCount(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[endpoint]
}

// Labels returns the label or listId of every call to endpoint, in order.
func (s *Server) Labels(endpoint string) []string {
	var out []string
	for _, c := range s.Calls(endpoint) {
		if l, ok := c.Body["label"].(string); ok {
			out = append(out, l)
		} else if l, ok := c.Body["listId"].(string); ok {
			out = append(out, l)
		}
	}
	return out
}

// SceneList returns the current members of the scene list named label.
func (s *Server) SceneList(label string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.lists[label]...)
}

// LoggedIn reports whether the issued API key is currently valid.
func (s *Server) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// AddFile serves data at /files/name with a correct Content-Length and
// returns its URL.
func (s *Server) AddFile(name string, data []byte) string {
	return s.AddFileWithLength(name, data, int64(len(data)))
}

// AddFileWithLength serves data at /files/name declaring length bytes.
func (s *Server) AddFileWithLength(name string, data []byte, length int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = File{Data: data, Length: length}
	return s.URL + "/files/" + name
}

// FileHits returns how many times /files/name was requested.
func (s *Server) FileHits(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileHits[name]
}

func (s *Server) serveAPI(w http.ResponseWriter, r *http.Request) {
	endpoint := mux.Vars(r)["endpoint"]

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeEnvelope(w, nil, &Failure{Status: http.StatusBadRequest, Code: "INPUT_FORMAT", Message: err.Error()})
		return
	}

	req := Request{Endpoint: endpoint, Body: body, Token: r.Header.Get("X-Auth-Token")}

	s.mu.Lock()
	s.calls = append(s.calls, Call{Endpoint: endpoint, Body: body, Token: req.Token})
	s.counts[endpoint]++
	req.N = s.counts[endpoint]
	authorized := s.loggedIn && req.Token == s.APIKey
	h, scripted := s.handlers[endpoint]
	s.mu.Unlock()

	if endpoint != "login" && endpoint != "login-token" && !authorized {
		writeEnvelope(w, nil, &Failure{Status: http.StatusUnauthorized, Code: "AUTH_UNAUTHORIZED", Message: "Invalid or missing API key"})
		return
	}

	if !scripted {
		h = s.defaultHandler(endpoint)
	}
	if h == nil {
		writeEnvelope(w, nil, &Failure{Status: http.StatusNotFound, Code: "UNKNOWN_ENDPOINT", Message: endpoint})
		return
	}

	data, failure := h(req)
	writeEnvelope(w, data, failure)
}

func (s *Server) defaultHandler(endpoint string) Handler {
	switch endpoint {
	case "login":
		return func(req Request) (any, *Failure) {
			return s.login(req.String("username") == s.Username && req.String("password") == s.Password)
		}
	case "login-token":
		return func(req Request) (any, *Failure) {
			return s.login(req.String("username") == s.Username && req.String("token") == s.Token)
		}
	case "logout":
		return func(Request) (any, *Failure) {
			s.mu.Lock()
			s.loggedIn = false
			s.mu.Unlock()
			return nil, nil
		}
	case "dataset-search":
		return func(Request) (any, *Failure) {
			s.mu.Lock()
			defer s.mu.Unlock()
			out := make([]map[string]any, len(s.datasets))
			for i, d := range s.datasets {
				out[i] = map[string]any{"datasetAlias": d, "collectionName": d}
			}
			return out, nil
		}
	case "permissions":
		return func(Request) (any, *Failure) {
			return []string{"user", "download"}, nil
		}
	case "scene-search":
		return func(Request) (any, *Failure) {
			return map[string]any{"results": []any{}, "totalHits": 0, "recordsReturned": 0}, nil
		}
	case "scene-list-add":
		return func(req Request) (any, *Failure) {
			s.mu.Lock()
			defer s.mu.Unlock()
			id := req.String("listId")
			s.lists[id] = append(s.lists[id], req.Strings("entityIds")...)
			return len(req.Strings("entityIds")), nil
		}
	case "scene-list-get":
		return func(req Request) (any, *Failure) {
			s.mu.Lock()
			defer s.mu.Unlock()
			var out []map[string]any
			for _, id := range s.lists[req.String("listId")] {
				out = append(out, map[string]any{"entityId": id})
			}
			return out, nil
		}
	case "scene-list-remove":
		return func(req Request) (any, *Failure) {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.lists, req.String("listId"))
			return nil, nil
		}
	case "download-options":
		return func(Request) (any, *Failure) { return []any{}, nil }
	case "download-request":
		return func(Request) (any, *Failure) { return Order(nil, nil, nil), nil }
	case "download-retrieve":
		return func(Request) (any, *Failure) { return Retrieve(nil, nil), nil }
	case "download-search", "download-order-remove":
		return func(Request) (any, *Failure) { return nil, nil }
	}
	return nil
}

func (s *Server) login(ok bool) (any, *Failure) {
	if !ok {
		return nil, &Failure{Status: http.StatusBadRequest, Code: "AUTH_INVALID", Message: "User credential verification failed"}
	}
	s.mu.Lock()
	s.loggedIn = true
	s.mu.Unlock()
	return s.APIKey, nil
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	s.mu.Lock()
	f, ok := s.files[name]
	s.fileHits[name]++
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/x-tar")
	if f.Length == UnknownLength {
		w.WriteHeader(http.StatusOK)
		if fl, ok := w.(http.Flusher); ok {
			fl.Flush()
		}
		w.Write(f.Data)
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(f.Length, 10))
	w.WriteHeader(http.StatusOK)
	if f.Length > 0 {
		w.Write(f.Data)
	}
}

func writeEnvelope(w http.ResponseWriter, data any, f *Failure) {
	env := map[string]any{"data": data, "errorCode": nil, "errorMessage": nil}
	status := http.StatusOK
	if f != nil {
		env["data"] = nil
		env["errorCode"] = f.Code
		env["errorMessage"] = f.Message
		if f.Status != 0 {
			status = f.Status
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
