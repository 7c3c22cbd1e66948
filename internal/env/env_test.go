package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestApplyAndList(t *testing.T) {
	t.Setenv("SAMGO_ENV_TEST_HOME", "/home/gamer")
	v := Var{}
	v.Apply([]string{"A=1", "B=${A}-x", "junk", "=empty", "C=${SAMGO_ENV_TEST_HOME}/save", "D=${MISSING_SAMGO_VAR}", "E=${unterminated"})
	got := strings.Join(v.List(), ",")
	want := "A=1,B=1-x,C=/home/gamer/save,D=${MISSING_SAMGO_VAR},E=${unterminated"
	if got != want {
		t.Fatalf("List() = %s, want %s", got, want)
	}
}

func TestMergeOverrides(t *testing.T) {
	v := Var{"A": "file", "B": "two"}
	v.Merge(Var{"A": "top", "": "skip"})
	if v["A"] != "top" || v["B"] != "two" {
		t.Fatalf("unexpected merge result: %v", v)
	}
	if _, ok := v[""]; ok {
		t.Fatal("empty key must be skipped")
	}
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(p, []byte("# comment\nA = 1\n\nB=x=y\n=nokey\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	v, err := LoadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 2 || v["A"] != "1" || v["B"] != "x=y" {
		t.Fatalf("unexpected vars: %v", v)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// FuzzList checks List never panics and always yields K=V pairs with a
// non-empty key.
func FuzzList(f *testing.F) {
	f.Add("A=1\nB=${A}-x")
	f.Add("X=${Y}\nY=${X}")
	f.Add("Z=${")
	f.Fuzz(func(t *testing.T, in string) {
		v := Var{}
		v.Apply(strings.Split(in, "\n"))
		for _, kv := range v.List() {
			if i := strings.IndexByte(kv, '='); i <= 0 {
				t.Fatalf("bad pair: %q", kv)
			}
		}
	})
}
