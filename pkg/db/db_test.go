package db

import (
	"net/url"
	"strings"
	"testing"
)

func TestOpenDSNCarriesPragmas(t *testing.T) {
	got := dsn(":memory:")
	if !strings.HasPrefix(got, "file::memory:?") {
		t.Fatalf("dsn = %q, want file: URI", got)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	pragmas := u.Query()["_pragma"]
	want := map[string]bool{
		"journal_mode(WAL)":   false,
		"busy_timeout(5000)":  false,
		"foreign_keys(1)":     false,
		"synchronous(NORMAL)": false,
	}
	for _, p := range pragmas {
		if _, ok := want[p]; ok {
			want[p] = true
		}
	}
	for p, seen := range want {
		if !seen {
			t.Errorf("dsn missing pragma %s", p)
		}
	}
}
