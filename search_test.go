package tablon

import "testing"

func seedLedger(t *testing.T) *MemTable {
	t.Helper()
	layout := ledgerLayout(t)
	m, err := NewMemTable(layout)
	tcheck(t, err, "new table")
	for _, r := range []Row{
		mustRow(t, layout, int64(1), "a", 1.0),
		mustRow(t, layout, int64(2), "b", 2.0),
		mustRow(t, layout, int64(3), "c", 3.0),
	} {
		_, err := m.Insert(r)
		tcheck(t, err, "insert")
	}
	return m
}

func names(t *testing.T, rows []Row) []string {
	t.Helper()
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Value(1).(string)
	}
	return out
}

// TestSearchCombinedScenario is scenario S2: (Amount > 1) & (Name Like "%b%")
// over {1,a,1},{2,b,2},{3,c,3} returns exactly {2,b,2}.
func TestSearchCombinedScenario(t *testing.T) {
	m := seedLedger(t)
	s := Greater("Amount", 1.0).And(Like("Name", "%b%"))
	rows, err := m.GetRows(s, None())
	tcheck(t, err, "GetRows")
	if len(rows) != 1 || rows[0].Value(1) != "b" || rows[0].Value(2) != 2.0 {
		t.Fatalf("got %#v", rows)
	}
}

// TestSearchEqualMatchesPredicate verifies property 5's first half: GetRows(S)
// is exactly the rows that satisfy S.
func TestSearchEqualMatchesPredicate(t *testing.T) {
	m := seedLedger(t)
	rows, err := m.GetRows(Equal("Name", "b"), None())
	tcheck(t, err, "GetRows")
	if got := names(t, rows); len(got) != 1 || got[0] != "b" {
		t.Fatalf("got %v, want [b]", got)
	}
}

// TestSearchNotIsComplement verifies property 5's second half: GetRows(!S)
// equals GetRows(None) minus GetRows(S).
func TestSearchNotIsComplement(t *testing.T) {
	m := seedLedger(t)
	all, err := m.GetRows(SearchNone(), None())
	tcheck(t, err, "GetRows all")
	matched, err := m.GetRows(Equal("Name", "b"), None())
	tcheck(t, err, "GetRows matched")
	notMatched, err := m.GetRows(Equal("Name", "b").Not(), None())
	tcheck(t, err, "GetRows not")

	if len(matched)+len(notMatched) != len(all) {
		t.Fatalf("partition sizes %d+%d != %d", len(matched), len(notMatched), len(all))
	}
	for _, r := range notMatched {
		if r.Value(1) == "b" {
			t.Fatalf("Not() leaked a matching row: %#v", r)
		}
	}
}

// TestSearchAndIsIntersection verifies (A&B).Scan == A.Scan ∩ B.Scan.
func TestSearchAndIsIntersection(t *testing.T) {
	m := seedLedger(t)
	a := Greater("Amount", 1.0)
	b := Smaller("Amount", 3.0)
	rows, err := m.GetRows(a.And(b), None())
	tcheck(t, err, "GetRows and")
	if len(rows) != 1 || rows[0].Value(1) != "b" {
		t.Fatalf("got %#v, want row b", rows)
	}
}

// TestSearchOrIsUnion verifies (A|B).Scan == A.Scan ∪ B.Scan.
func TestSearchOrIsUnion(t *testing.T) {
	m := seedLedger(t)
	a := Equal("Name", "a")
	b := Equal("Name", "c")
	rows, err := m.GetRows(a.Or(b), None())
	tcheck(t, err, "GetRows or")
	got := names(t, rows)
	if len(got) != 2 || (got[0] != "a" && got[0] != "c") {
		t.Fatalf("got %v, want a and c", got)
	}
}

func TestSearchInMatchesAnyOfSet(t *testing.T) {
	m := seedLedger(t)
	rows, err := m.GetRows(In("Name", "a", "c", "z"), None())
	tcheck(t, err, "GetRows in")
	got := names(t, rows)
	if len(got) != 2 {
		t.Fatalf("got %v, want 2 rows", got)
	}
}

func TestSearchStringDebugForm(t *testing.T) {
	s := Equal("Name", "a").And(Greater("Amount", 1.0))
	if s.String() == "" {
		t.Fatalf("String() returned empty debug form")
	}
}

func TestSearchDecomposeExposesShape(t *testing.T) {
	s := Equal("Name", "a").Or(Equal("Name", "b"))
	node := s.Decompose()
	if node.Kind != NodeOr {
		t.Fatalf("Kind = %v, want NodeOr", node.Kind)
	}
	if node.Left == nil || node.Right == nil {
		t.Fatalf("Or node missing children: %#v", node)
	}
}
