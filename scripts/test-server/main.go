// Command test-server is an in-memory stand-in for the social network
// services, for running examples/social-network.yaml locally:
//
//	go run ./scripts/test-server -addr :8765
//	surge run -c examples/social-network.yaml
package main

import (
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wesleyorama2/surge/internal/logging"
)

type record map[string]any

// collection is a list of JSON records indexed by id.
type collection struct {
	mu    sync.RWMutex
	items []record
	byID  map[string]record
}

func newCollection() *collection {
	return &collection{byID: make(map[string]record)}
}

func (c *collection) add(r record) record {
	r["id"] = uuid.NewString()
	r["createdAt"] = time.Now().UTC().Format(time.RFC3339)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, r)
	c.byID[r["id"].(string)] = r
	return r
}

func (c *collection) get(id string) (record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.byID[id]
	return r, ok
}

// list returns the newest records first, at most limit of them.
func (c *collection) list(limit int, match func(record) bool) []record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]record, 0, limit)
	for i := len(c.items) - 1; i >= 0 && len(out) < limit; i-- {
		if match == nil || match(c.items[i]) {
			out = append(out, c.items[i])
		}
	}
	return out
}

type server struct {
	users, posts, comments, likes, friendships *collection
	latency                                    time.Duration
	log                                        *zap.Logger
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /user-ms/api/users", s.create(s.users, "name", "email"))
	mux.HandleFunc("GET /user-ms/api/users", s.list(s.users, nil))
	mux.HandleFunc("GET /user-ms/api/users/{id}", s.get(s.users))

	mux.HandleFunc("POST /post-ms/api/posts", s.create(s.posts, "user", "content"))
	mux.HandleFunc("GET /post-ms/api/posts", s.list(s.posts, nil))
	mux.HandleFunc("GET /post-ms/api/posts/user/{id}", s.list(s.posts, func(r *http.Request, rec record) bool {
		user, _ := rec["user"].(map[string]any)
		return user != nil && user["id"] == r.PathValue("id")
	}))

	mux.HandleFunc("POST /comment-ms/api/comments", s.create(s.comments, "postId", "userId", "content"))
	mux.HandleFunc("GET /comment-ms/api/comments/post/{id}", s.list(s.comments, field("postId")))

	mux.HandleFunc("POST /like-ms/api/likes", s.create(s.likes, "userId"))
	mux.HandleFunc("GET /like-ms/api/likes", s.list(s.likes, nil))

	mux.HandleFunc("POST /friendship-ms/api/friendships", s.createFriendship)
	mux.HandleFunc("GET /friendship-ms/api/friendships/user/{id}", s.list(s.friendships, func(r *http.Request, rec record) bool {
		id := r.PathValue("id")
		return rec["userId1"] == id || rec["userId2"] == id
	}))
	return mux
}

func field(name string) func(*http.Request, record) bool {
	return func(r *http.Request, rec record) bool {
		return rec[name] == r.PathValue("id")
	}
}

func (s *server) create(c *collection, required ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.pause()
		var rec record
		if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
			writeJSON(w, http.StatusBadRequest, record{"error": "invalid JSON"})
			return
		}
		for _, f := range required {
			if v, ok := rec[f]; !ok || v == nil || v == "" {
				s.log.Debug("rejected create", zap.String("path", r.URL.Path), zap.String("missing", f))
				writeJSON(w, http.StatusBadRequest, record{"error": f + " is required"})
				return
			}
		}
		writeJSON(w, http.StatusCreated, c.add(rec))
	}
}

func (s *server) createFriendship(w http.ResponseWriter, r *http.Request) {
	s.pause()
	var rec record
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, record{"error": "invalid JSON"})
		return
	}
	if rec["userId1"] == nil || rec["userId1"] == rec["userId2"] {
		writeJSON(w, http.StatusBadRequest, record{"error": "two different users are required"})
		return
	}
	writeJSON(w, http.StatusCreated, s.friendships.add(rec))
}

func (s *server) get(c *collection) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.pause()
		rec, ok := c.get(r.PathValue("id"))
		if !ok {
			writeJSON(w, http.StatusNotFound, record{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func (s *server) list(c *collection, match func(*http.Request, record) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.pause()
		var fn func(record) bool
		if match != nil {
			fn = func(rec record) bool { return match(r, rec) }
		}
		writeJSON(w, http.StatusOK, c.list(50, fn))
	}
}

func (s *server) pause() {
	if s.latency > 0 {
		time.Sleep(s.latency)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	addr := flag.String("addr", ":8765", "listen address")
	latency := flag.Duration("latency", 5*time.Millisecond, "artificial latency per request")
	flag.Parse()

	log, err := logging.New(logging.Config{Level: "info"})
	if err != nil {
		os.Exit(1)
	}

	s := &server{
		users:       newCollection(),
		posts:       newCollection(),
		comments:    newCollection(),
		likes:       newCollection(),
		friendships: newCollection(),
		latency:     *latency,
		log:         log,
	}

	// Configure server for high throughput
	srv := &http.Server{
		Addr:              *addr,
		Handler:           s.routes(),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	log.Info("starting social network test server",
		zap.String("addr", *addr),
		zap.Int("cpus", runtime.NumCPU()),
		zap.Duration("latency", *latency))

	if err := srv.ListenAndServe(); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
