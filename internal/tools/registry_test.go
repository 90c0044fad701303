package tools

import (
	"context"
	"errors"
	"testing"
)

type slowDescTool struct {
	LSTool
	name string
	desc string
}

func (t slowDescTool) Name() string { return t.name }

func (t slowDescTool) Description(context.Context) (string, error) {
	return t.desc, nil
}

func TestRegisterPrimesDescriptions(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register(context.Background(),
		slowDescTool{name: "A", desc: "first tool"},
		slowDescTool{name: "B", desc: "second tool"},
	)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if got := reg.CachedDescription("A"); got != "first tool" {
		t.Errorf("description A = %q", got)
	}
	if got := reg.CachedDescription("B"); got != "second tool" {
		t.Errorf("description B = %q", got)
	}
	if _, ok := reg.Get("A"); !ok {
		t.Error("Get(A) missing")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("Get(missing) found a tool")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(context.Background(), LSTool{}); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := reg.Register(context.Background(), LSTool{}); err == nil {
		t.Fatal("duplicate Register succeeded")
	}
}

type failingDescTool struct {
	LSTool
}

func (failingDescTool) Name() string { return "Failing" }

func (failingDescTool) Description(context.Context) (string, error) {
	return "", errors.New("remote lookup failed")
}

func TestRegisterSurfacesDescriptionErrors(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(context.Background(), failingDescTool{}); err == nil {
		t.Fatal("expected error from failing description")
	}
}

func TestNamesSorted(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(context.Background(), BashTool{}, LSTool{}, ReadTool{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	names := reg.Names()
	want := []string{"Bash", "LS", "Read"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
