// Package relaystub is an in-process fake of the relay's stream API that keeps
// a materialized stream table and records every call.
package relaystub

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
)

// Options describes how the fake relay should behave.
type Options struct {
	// FailUpserts causes the first N upsert requests to return HTTP 503.
	FailUpserts int

	// FailRemoves causes the first N remove requests to return HTTP 503.
	FailRemoves int

	// RejectAll makes every request return HTTP 400.
	RejectAll bool
}

// Operation is one recorded relay call.
type Operation struct {
	Method string
	Name   string
	Src    string
	Status int
}

// Relay hosts a single httptest.Server serving /api/streams.
type Relay struct {
	server *httptest.Server
	opts   Options

	mu         sync.Mutex
	streams    map[string]string
	operations []Operation
	upsertErr  int
	removeErr  int
}

// Start spins up a new fake relay.
func Start(opts Options) *Relay {
	r := &Relay{opts: opts, streams: make(map[string]string)}
	r.server = httptest.NewServer(http.HandlerFunc(r.handle))
	return r
}

// URL is the base URL to configure a relay client with.
func (r *Relay) URL() string { return r.server.URL }

// Close shuts down the underlying HTTP server.
func (r *Relay) Close() { r.server.Close() }

// Streams returns a copy of the materialized stream table.
func (r *Relay) Streams() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.streams))
	for k, v := range r.streams {
		out[k] = v
	}
	return out
}

// Operations returns a copy of every call in arrival order.
func (r *Relay) Operations() []Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Operation(nil), r.operations...)
}

// Removed returns the names passed to remove calls, sorted.
func (r *Relay) Removed() []string {
	return r.namesFor(http.MethodDelete)
}

// Upserted returns the names passed to upsert calls, sorted, with repeats.
func (r *Relay) Upserted() []string {
	return r.namesFor(http.MethodPut)
}

// Reset forgets recorded operations but keeps the stream table.
func (r *Relay) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations = nil
}

func (r *Relay) namesFor(method string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var names []string
	for _, op := range r.operations {
		if op.Method == method {
			names = append(names, op.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *Relay) handle(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != "/api/streams" {
		http.NotFound(w, req)
		return
	}
	q := req.URL.Query()

	r.mu.Lock()
	defer r.mu.Unlock()

	op := Operation{Method: req.Method}
	switch req.Method {
	case http.MethodPut:
		op.Name, op.Src = q.Get("name"), q.Get("src")
	case http.MethodDelete:
		op.Name = q.Get("src")
	}

	switch {
	case r.opts.RejectAll, op.Name == "":
		op.Status = http.StatusBadRequest
	case req.Method == http.MethodPut:
		if r.upsertErr < r.opts.FailUpserts {
			r.upsertErr++
			op.Status = http.StatusServiceUnavailable
			break
		}
		r.streams[op.Name] = op.Src
		op.Status = http.StatusOK
	case req.Method == http.MethodDelete:
		if r.removeErr < r.opts.FailRemoves {
			r.removeErr++
			op.Status = http.StatusServiceUnavailable
			break
		}
		if _, ok := r.streams[op.Name]; !ok {
			op.Status = http.StatusNotFound
			break
		}
		delete(r.streams, op.Name)
		op.Status = http.StatusOK
	default:
		op.Status = http.StatusMethodNotAllowed
	}

	r.operations = append(r.operations, op)
	w.WriteHeader(op.Status)
}
