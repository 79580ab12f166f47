package queryopt

import "testing"

func TestNormalizeCollapsesWhitespaceAndCase(t *testing.T) {
	got := Normalize("  SELECT   *  FROM   users \n WHERE id = 1")
	want := "select * from users where id = 1"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestRewriteFlagsSelectStarAndParameterizesLiterals(t *testing.T) {
	rewritten, warnings := Rewrite("SELECT * FROM events WHERE created_at = '2024-01-02' AND id = 123456")
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", warnings)
	}
	if rewritten == "" {
		t.Fatal("expected non-empty rewritten SQL")
	}
}

func TestCacheableRejectsNonSelectAndNonDeterministic(t *testing.T) {
	if cacheable("UPDATE users SET x = 1") {
		t.Fatal("UPDATE should not be cacheable")
	}
	if cacheable("SELECT now()") {
		t.Fatal("query with now() should not be cacheable")
	}
	if !cacheable("SELECT id FROM users WHERE id = 1") {
		t.Fatal("plain SELECT should be cacheable")
	}
}

func TestAllIdenticalDetectsSameShapeDifferentParams(t *testing.T) {
	items := []BatchItem{
		{SQL: "INSERT INTO t (a) VALUES ($1)", Params: []interface{}{1}},
		{SQL: "insert into t (a) values ($1)", Params: []interface{}{2}},
	}
	if !allIdentical(items) {
		t.Fatal("expected identical-shape detection to succeed")
	}
}

func TestPreparedStatementRegistry(t *testing.T) {
	o := New(nil, 10, 10)
	o.Prepare("get_user", "SELECT * FROM users WHERE id = $1")
	sql, ok := o.PreparedSQL("get_user")
	if !ok || sql == "" {
		t.Fatal("expected registered statement to be retrievable")
	}
}
