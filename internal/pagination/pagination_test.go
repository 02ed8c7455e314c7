package pagination

import (
	"fmt"
	"testing"
)

func ints(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("item-%03d", i)
	}
	return out
}

func ident(s string) string { return s }

func TestPaginate_ThreePages(t *testing.T) {
	list := ints(120)

	page1, tok1 := Paginate(list, 50, "", ident)
	if len(page1) != 50 || tok1 == "" {
		t.Fatalf("page1: got %d elements, token %q", len(page1), tok1)
	}
	page2, tok2 := Paginate(list, 50, tok1, ident)
	if len(page2) != 50 || tok2 == "" {
		t.Fatalf("page2: got %d elements, token %q", len(page2), tok2)
	}
	page3, tok3 := Paginate(list, 50, tok2, ident)
	if len(page3) != 20 {
		t.Fatalf("page3: got %d elements, want 20", len(page3))
	}
	if tok3 != "" {
		t.Fatalf("page3: unexpected continuation token %q", tok3)
	}

	var all []string
	all = append(all, page1...)
	all = append(all, page2...)
	all = append(all, page3...)
	if len(all) != len(list) {
		t.Fatalf("concatenated pages have %d elements, want %d", len(all), len(list))
	}
	for i, v := range all {
		if v != list[i] {
			t.Fatalf("element %d: got %q, want %q", i, v, list[i])
		}
	}
}

func TestPaginate_LimitZero(t *testing.T) {
	page, tok := Paginate(ints(10), 0, "", ident)
	if len(page) != 0 {
		t.Fatalf("got %d elements, want none", len(page))
	}
	if tok != "" {
		t.Fatalf("unexpected token %q", tok)
	}
}

func TestPaginate_UnknownTokenRestarts(t *testing.T) {
	list := ints(5)
	page, _ := Paginate(list, 3, "no-such-key", ident)
	if len(page) != 3 || page[0] != list[0] {
		t.Fatalf("unknown token should restart from the beginning, got %v", page)
	}
}

func TestPaginate_ExactBoundary(t *testing.T) {
	list := ints(50)
	page, tok := Paginate(list, 50, "", ident)
	if len(page) != 50 {
		t.Fatalf("got %d elements, want 50", len(page))
	}
	if tok != "" {
		t.Fatalf("list exhausted in one page, unexpected token %q", tok)
	}
}

func TestClampLimit(t *testing.T) {
	cases := []struct{ in, want int }{
		{-1, DefaultLimit},
		{0, 0},
		{50, 50},
		{256, 256},
		{1000, MaxLimit},
	}
	for _, c := range cases {
		if got := ClampLimit(c.in); got != c.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
