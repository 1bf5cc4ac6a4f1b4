package store

import (
	"strings"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestCompileQueryEqualityUsesContainment(t *testing.T) {
	compiled, err := compileQuery("wallpapers", Query{
		Predicates: []Predicate{Where("isPublic", OpEq, true)},
		OrderBy:    "createdAt",
		Direction:  Desc,
		Limit:      20,
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(compiled.conds) != 3 {
		t.Fatalf("expected collection, predicate and order-field conditions, got %d", len(compiled.conds))
	}
	eq := compiled.conds[1]
	if eq.SQL != "data @> ?::jsonb" || eq.Vars[0] != `{"isPublic":true}` {
		t.Fatalf("unexpected equality clause %q %v", eq.SQL, eq.Vars)
	}
	if compiled.order.SQL != "data -> ?::text DESC, created_at ASC, id ASC" || compiled.order.Vars[0] != "createdAt" {
		t.Fatalf("unexpected order clause %+v", compiled.order)
	}
	if compiled.limit != 20 {
		t.Fatalf("expected limit 20, got %d", compiled.limit)
	}
}

func TestCompileArrayContainsAnyExpandsToOr(t *testing.T) {
	compiled, err := compileQuery("wallpapers", Query{
		Predicates: []Predicate{Where("tags", OpArrayContainsAny, []string{"sea", "sky"})},
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cond := compiled.conds[1]
	if strings.Count(cond.SQL, " OR ") != 1 {
		t.Fatalf("expected two alternatives, got %q", cond.SQL)
	}
	if strings.Count(cond.SQL, "?") != len(cond.Vars) {
		t.Fatalf("placeholder count %d does not match vars %d", strings.Count(cond.SQL, "?"), len(cond.Vars))
	}
	if cond.Vars[2] != `["sea"]` || cond.Vars[5] != `["sky"]` {
		t.Fatalf("unexpected vars %v", cond.Vars)
	}
}

func TestCompileRangePinsType(t *testing.T) {
	compiled, err := compileQuery("c", Query{Predicates: []Predicate{Where("score", OpGte, 3)}})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cond := compiled.conds[1]
	if !strings.Contains(cond.SQL, "jsonb_typeof") || !strings.HasSuffix(cond.SQL, ">= ?::jsonb") {
		t.Fatalf("unexpected range clause %q", cond.SQL)
	}
}

func TestCompileWithoutOrderStillHasStableTieBreak(t *testing.T) {
	compiled, err := compileQuery("c", Query{})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if compiled.order.SQL != "created_at ASC, id ASC" || len(compiled.order.Vars) != 0 {
		t.Fatalf("unexpected order %+v", compiled.order)
	}
}

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=wallpapers dbname=wallpapers sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	if err != nil {
		t.Fatalf("open dry-run db: %v", err)
	}
	return db
}

func renderQuery(t *testing.T, db *gorm.DB, q Query) string {
	t.Helper()
	compiled, err := compileQuery("wallpapers", q)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var models []DocumentModel
		return applyQuery(tx.Model(&DocumentModel{}), compiled).Find(&models)
	})
}

func TestGormQueryEmitsOrderBy(t *testing.T) {
	db := dryRunDB(t)

	sql := renderQuery(t, db, Query{
		Predicates: []Predicate{Where("isPublic", OpEq, true)},
		OrderBy:    "createdAt",
		Direction:  Desc,
		Limit:      20,
	})
	want := `ORDER BY data -> 'createdAt'::text DESC, created_at ASC, id ASC LIMIT 20`
	if !strings.Contains(sql, want) {
		t.Fatalf("expected %q in\n%s", want, sql)
	}
	if !strings.Contains(sql, `data @> '{"isPublic":true}'::jsonb`) {
		t.Fatalf("expected containment predicate in\n%s", sql)
	}

	sql = renderQuery(t, db, Query{})
	if !strings.Contains(sql, "ORDER BY created_at ASC, id ASC") {
		t.Fatalf("expected tie-break ordering in\n%s", sql)
	}
}
