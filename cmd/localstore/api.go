package main

import (
	"container/list"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vango-dev/localstore/internal/errors"
	"github.com/vango-dev/localstore/pkg/localstore"
)

const (
	// maxBodyBytes caps PUT bodies.
	maxBodyBytes = 1 << 20

	// defaultMaxManagers bounds the number of keys with a live manager.
	defaultMaxManagers = 1024
)

// itemsAPI serves keys over HTTP. It keeps a manager per recently used key
// so reads are cached and writes fan out to watchers in this process. The
// least recently used manager is destroyed once maxManagers is exceeded.
type itemsAPI struct {
	opts        []localstore.Option
	maxManagers int

	mu       sync.Mutex
	managers map[string]*list.Element
	order    *list.List // front is most recently used
}

func newItemsAPI(opts ...localstore.Option) *itemsAPI {
	return &itemsAPI{
		opts:        opts,
		maxManagers: defaultMaxManagers,
		managers:    make(map[string]*list.Element),
		order:       list.New(),
	}
}

func (a *itemsAPI) manager(key string) *localstore.Manager[any] {
	a.mu.Lock()
	defer a.mu.Unlock()

	if el, ok := a.managers[key]; ok {
		a.order.MoveToFront(el)
		return el.Value.(*localstore.Manager[any])
	}

	m := localstore.New(key, localstore.Identity(), a.opts...)
	a.managers[key] = a.order.PushFront(m)

	for a.order.Len() > a.maxManagers {
		oldest := a.order.Back()
		evicted := a.order.Remove(oldest).(*localstore.Manager[any])
		delete(a.managers, evicted.Key())
		evicted.Destroy()
	}
	return m
}

// live returns the number of managers currently held.
func (a *itemsAPI) live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.order.Len()
}

// Close destroys every manager.
func (a *itemsAPI) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	for el := a.order.Front(); el != nil; el = el.Next() {
		el.Value.(*localstore.Manager[any]).Destroy()
	}
	a.managers = make(map[string]*list.Element)
	a.order.Init()
}

func (a *itemsAPI) getItem(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	v, ok := a.manager(key).Get()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no value for " + key})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (a *itemsAPI) putItem(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("E140").Wrap(err))
		return
	}
	v, err := parseJSONArg(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.manager(key).Set(v); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *itemsAPI) deleteItem(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := a.manager(key).Remove(); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// newRouter mounts the items API, the relay hub and the metrics handler.
// relayHandler and metricsHandler may be nil.
func newRouter(api *itemsAPI, relayHandler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/items/{key}", func(r chi.Router) {
		r.Get("/", api.getItem)
		r.Put("/", api.putItem)
		r.Delete("/", api.deleteItem)
	})

	if relayHandler != nil {
		r.Handle("/relay", relayHandler)
	}
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes err in the coded JSON error format.
func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, errors.FromError(err, "E021").FormatJSON())
}
