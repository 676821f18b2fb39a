package realtime

import (
	"testing"

	"bustrack/internal/model"
)

func TestRegistryRegisterOverwriteKeepsOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("c1", model.User{ID: "1", Name: "Ana", Role: model.RoleDriver})
	r.Register("c2", model.User{ID: "2", Name: "Luis", Role: model.RoleManager})
	r.Register("c1", model.User{ID: "1", Name: "Ana M", Role: model.RoleDriver})

	got := r.List()
	if len(got) != 2 {
		t.Fatalf("roster len = %d, want 2", len(got))
	}
	if got[0].Name != "Ana M" || got[1].ID != "2" {
		t.Fatalf("roster order/content: %+v", got)
	}
	if u, ok := r.Lookup("c1"); !ok || u.Name != "Ana M" {
		t.Fatalf("lookup c1 = %+v, %v", u, ok)
	}
}

func TestRegistryUnregisterUnknown(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Unregister("nope"); ok {
		t.Fatal("unregister of unknown conn reported a user")
	}
	r.Register("c1", model.User{ID: "1"})
	if u, ok := r.Unregister("c1"); !ok || u.ID != "1" {
		t.Fatalf("unregister c1 = %+v, %v", u, ok)
	}
	if r.Len() != 0 {
		t.Fatalf("len after unregister = %d", r.Len())
	}
}

func TestRegistrySameUserTwoConnections(t *testing.T) {
	r := NewRegistry()
	u := model.User{ID: "9", Name: "Rosa", Role: model.RoleDriver}
	r.Register("a", u)
	r.Register("b", u)
	if r.Len() != 2 {
		t.Fatalf("len = %d, want 2 (connections, not users)", r.Len())
	}
	r.Unregister("a")
	got := r.List()
	if len(got) != 1 || got[0].ID != "9" {
		t.Fatalf("roster after one disconnect: %+v", got)
	}
}
