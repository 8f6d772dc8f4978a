package crypto

import "testing"

func TestCanonicalKeyOrdering(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": map[string]interface{}{"z": 1, "y": 2}}
	out, err := Canonical(a)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want := `{"a":2,"b":1,"c":{"y":2,"z":1}}`
	if out != want {
		t.Fatalf("got %q want %q", out, want)
	}
}

func TestCanonicalDeterministic(t *testing.T) {
	m1 := map[string]interface{}{"x": 1, "y": "hi", "z": []interface{}{1, 2, "three"}}
	clone := map[string]interface{}{"z": []interface{}{1, 2, "three"}, "y": "hi", "x": 1}
	out1, err := Canonical(m1)
	if err != nil {
		t.Fatalf("canonical m1: %v", err)
	}
	out2, err := Canonical(clone)
	if err != nil {
		t.Fatalf("canonical clone: %v", err)
	}
	if out1 != out2 {
		t.Fatalf("canonical forms diverged: %q vs %q", out1, out2)
	}
}

func TestCanonicalRejectsFloat(t *testing.T) {
	if _, err := Canonical(map[string]interface{}{"a": 1.5}); err == nil {
		t.Fatal("expected error for float value")
	}
}

func TestCanonicalRejectsNonASCII(t *testing.T) {
	if _, err := Canonical(map[string]interface{}{"a": "café"}); err == nil {
		t.Fatal("expected error for non-ASCII string")
	}
}

func TestCanonicalPrimitives(t *testing.T) {
	cases := []struct {
		in   interface{}
		want string
	}{
		{nil, "null"},
		{true, "true"},
		{false, "false"},
		{int64(42), "42"},
		{"hello \"world\"", `"hello \"world\""`},
		{[]interface{}{1, 2, 3}, "[1,2,3]"},
	}
	for _, c := range cases {
		got, err := Canonical(c.in)
		if err != nil {
			t.Fatalf("canonical(%v): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("canonical(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}
