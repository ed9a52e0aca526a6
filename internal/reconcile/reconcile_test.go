package reconcile

import (
	"reflect"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu        sync.Mutex
	created   []string
	destroyed []string
}

func (r *recorder) create(key string, meta string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, key)
	return key + ":" + meta
}

func (r *recorder) destroy(key string, res string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyed = append(r.destroyed, key)
}

func syncDispatch(fn func()) { fn() }

func newTestReconciler(rec *recorder) *Reconciler[map[string]string, string, string] {
	return New(Config[map[string]string, string, string]{
		Wants:    func(s map[string]string) map[string]string { return s },
		Create:   rec.create,
		Destroy:  rec.destroy,
		Dispatch: syncDispatch,
	})
}

func TestDiff(t *testing.T) {
	wants := map[string]int{"A": 1, "B": 2}
	known := map[string]bool{"B": true, "C": true}
	add, remove := Diff(wants, known)
	if !reflect.DeepEqual(add, []string{"A"}) || !reflect.DeepEqual(remove, []string{"C"}) {
		t.Errorf("Diff = add %v remove %v", add, remove)
	}
}

func TestReconcile_add_and_remove(t *testing.T) {
	rec := &recorder{}
	r := newTestReconciler(rec)

	r.Reconcile(map[string]string{"B": "b", "C": "c"})
	rec.created = nil

	added, removed := r.Reconcile(map[string]string{"A": "a", "B": "b"})

	if !reflect.DeepEqual(added, []string{"A"}) || !reflect.DeepEqual(rec.created, []string{"A"}) {
		t.Errorf("expected only create(A), got added=%v created=%v", added, rec.created)
	}
	if !reflect.DeepEqual(removed, []string{"C"}) || !reflect.DeepEqual(rec.destroyed, []string{"C"}) {
		t.Errorf("expected only destroy(C), got removed=%v destroyed=%v", removed, rec.destroyed)
	}
	if got := r.Known(); !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Errorf("Known = %v", got)
	}
}

func TestReconcile_does_not_recreate_on_metadata_change(t *testing.T) {
	rec := &recorder{}
	r := newTestReconciler(rec)

	r.Reconcile(map[string]string{"A": "old title"})
	r.Reconcile(map[string]string{"A": "new title"})

	if len(rec.created) != 1 || len(rec.destroyed) != 0 {
		t.Errorf("created=%v destroyed=%v, want a single create", rec.created, rec.destroyed)
	}
	res, ok := r.Get("A")
	if !ok || res != "A:old title" {
		t.Errorf("resource should be the original, got %q ok=%v", res, ok)
	}
}

func TestReconcile_destroy_is_dispatched(t *testing.T) {
	release := make(chan struct{})
	done := make(chan string, 1)
	r := New(Config[[]string, struct{}, int]{
		Wants: func(keys []string) map[string]struct{} {
			out := make(map[string]struct{}, len(keys))
			for _, k := range keys {
				out[k] = struct{}{}
			}
			return out
		},
		Create: func(string, struct{}) int { return 1 },
		Destroy: func(key string, _ int) {
			<-release
			done <- key
		},
	})

	r.Reconcile([]string{"slow"})

	returned := make(chan struct{})
	go func() {
		r.Reconcile(nil)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Reconcile blocked on a slow destroy")
	}
	if r.Len() != 0 {
		t.Errorf("key should leave the known set immediately, known=%v", r.Known())
	}

	close(release)
	select {
	case key := <-done:
		if key != "slow" {
			t.Errorf("destroyed %q", key)
		}
	case <-time.After(time.Second):
		t.Fatal("destroy never ran")
	}
}

func TestTeardown(t *testing.T) {
	rec := &recorder{}
	r := newTestReconciler(rec)
	r.Reconcile(map[string]string{"A": "", "B": ""})

	removed := r.Teardown()
	if !reflect.DeepEqual(removed, []string{"A", "B"}) || r.Len() != 0 {
		t.Errorf("Teardown removed=%v len=%d", removed, r.Len())
	}
	if len(rec.destroyed) != 2 {
		t.Errorf("destroyed=%v", rec.destroyed)
	}
}
