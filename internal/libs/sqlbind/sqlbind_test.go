package sqlbind

import "testing"

func TestRebind(t *testing.T) {
	q := "UPDATE t SET a = ?, b = ? WHERE id = ?"

	if got := Rebind(DialectSQLite, q); got != q {
		t.Fatalf("sqlite must pass through, got %q", got)
	}

	want := "UPDATE t SET a = $1, b = $2 WHERE id = $3"
	if got := Rebind(DialectPostgres, q); got != want {
		t.Fatalf("want %q got %q", want, got)
	}

	if got := Rebind(DialectPostgres, "SELECT 1"); got != "SELECT 1" {
		t.Fatalf("placeholder-free query changed: %q", got)
	}
}
