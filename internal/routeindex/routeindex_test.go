package routeindex

import (
	"testing"

	"github.com/half-blood-labs/route-shield/internal/model"
)

func route(id int64, method, pattern string) model.Route {
	return model.Route{ID: id, Method: method, PathPattern: pattern}
}

func TestLookupExact(t *testing.T) {
	ix := New()
	ix.Store(route(1, "GET", "/api/users"))

	r, ok := ix.Lookup("GET", "/api/users")
	if !ok || r.ID != 1 {
		t.Fatalf("Lookup = (%+v, %v), want route 1", r, ok)
	}
	if _, ok := ix.Lookup("POST", "/api/users"); ok {
		t.Fatal("method must participate in matching")
	}
	if _, ok := ix.Lookup("GET", "/api/users/extra"); ok {
		t.Fatal("longer path must not match an exact pattern")
	}
}

func TestLookupParameterised(t *testing.T) {
	ix := New()
	ix.Store(route(1, "GET", "/api/users/:id"))

	r, ok := ix.Lookup("GET", "/api/users/42")
	if !ok || r.ID != 1 {
		t.Fatalf("Lookup(/api/users/42) = (%+v, %v), want route 1", r, ok)
	}
	if _, ok := ix.Lookup("GET", "/api/users/42/posts"); ok {
		t.Fatal("a :param matches exactly one segment")
	}
	if _, ok := ix.Lookup("GET", "/api/users/"); ok {
		t.Fatal("a :param must not match the empty segment")
	}
}

func TestLookupSpecificityOrder(t *testing.T) {
	ix := New()
	ix.Store(route(5, "GET", "/api/:resource/:id"))
	ix.Store(route(9, "GET", "/api/users/:id"))

	// fewer parameters wins even though its id is higher
	r, ok := ix.Lookup("GET", "/api/users/7")
	if !ok || r.ID != 9 {
		t.Fatalf("Lookup = (%+v, %v), want route 9", r, ok)
	}

	// equal specificity falls back to ascending id
	ix.Store(route(3, "GET", "/api/:section/:id"))
	r, _ = ix.Lookup("GET", "/api/things/7")
	if r.ID != 3 {
		t.Fatalf("tie-break chose route %d, want 3", r.ID)
	}
}

func TestExactBeatsParameterised(t *testing.T) {
	ix := New()
	ix.Store(route(1, "GET", "/api/users/:id"))
	ix.Store(route(2, "GET", "/api/users/me"))

	r, _ := ix.Lookup("GET", "/api/users/me")
	if r.ID != 2 {
		t.Fatalf("Lookup chose route %d, want the literal route 2", r.ID)
	}
}

func TestStoreOverwrites(t *testing.T) {
	ix := New()
	ix.Store(route(1, "GET", "/a"))
	ix.Store(route(1, "GET", "/b")) // same id, new pattern

	if _, ok := ix.Lookup("GET", "/a"); ok {
		t.Fatal("stale pattern still matches after overwrite by id")
	}
	if _, ok := ix.Lookup("GET", "/b"); !ok {
		t.Fatal("new pattern missing")
	}

	ix.Store(route(2, "get", "/b")) // same (method, pattern), new id
	r, _ := ix.Lookup("GET", "/b")
	if r.ID != 2 {
		t.Fatalf("Lookup = route %d, want 2 after key overwrite", r.ID)
	}
	if ix.Len() != 1 {
		t.Fatalf("Len = %d, want 1", ix.Len())
	}
}

func TestClearAndList(t *testing.T) {
	ix := New()
	ix.Store(route(2, "GET", "/x/:id"))
	ix.Store(route(1, "GET", "/x"))

	list := ix.List()
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 2 {
		t.Fatalf("List = %+v, want literal route first", list)
	}

	ix.Clear()
	if ix.Len() != 0 {
		t.Fatalf("Len after Clear = %d", ix.Len())
	}
	if _, ok := ix.Lookup("GET", "/x"); ok {
		t.Fatal("Lookup after Clear should miss")
	}
}

func TestPatternSyntaxIsLiteral(t *testing.T) {
	ix := New()
	ix.Store(route(1, "GET", "/files/a.b"))

	if _, ok := ix.Lookup("GET", "/files/axb"); ok {
		t.Fatal("dot in a pattern must match literally, not as regexp")
	}
	if _, ok := ix.Lookup("GET", "/files/a.b"); !ok {
		t.Fatal("literal pattern should match itself")
	}
}
