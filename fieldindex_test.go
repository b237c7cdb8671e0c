package tablon

import "testing"

func TestFieldIndexAddLookupDeleteReplace(t *testing.T) {
	layout := ledgerLayout(t)
	fi := newFieldIndex(1, layout) // Name field

	a := mustRow(t, layout, int64(1), "a", 1.0)
	b := mustRow(t, layout, int64(2), "b", 2.0)
	fi.Add(a)
	fi.Add(b)
	if fi.Count() != 2 {
		t.Fatalf("Count = %d, want 2", fi.Count())
	}
	if got := fi.Lookup("a"); len(got) != 1 {
		t.Fatalf("Lookup(a) = %#v", got)
	}

	renamed := mustRow(t, layout, int64(1), "z", 1.0)
	fi.Replace(a, renamed)
	if got := fi.Lookup("a"); len(got) != 0 {
		t.Fatalf("Lookup(a) after replace = %#v, want empty", got)
	}
	if got := fi.Lookup("z"); len(got) != 1 {
		t.Fatalf("Lookup(z) after replace = %#v", got)
	}
	if fi.Count() != 2 {
		t.Fatalf("Count after replace = %d, want 2", fi.Count())
	}

	fi.Delete(renamed)
	if fi.Count() != 1 {
		t.Fatalf("Count after delete = %d, want 1", fi.Count())
	}

	fi.Clear()
	if fi.Count() != 0 || len(fi.Lookup("b")) != 0 {
		t.Fatalf("Clear did not empty the index")
	}
}
