package kb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func seedBase() *Base {
	b := New()
	b.Add(
		Doc{ID: "box", Title: "Redémarrer sa Freebox", Content: "Débranchez la Freebox, attendez 30 secondes puis rebranchez-la. Le voyant doit redevenir fixe.", Tags: []string{"box", "internet"}},
		Doc{ID: "facture", Title: "Comprendre sa facture", Content: "La facture est disponible dans l'espace abonné chaque mois. Un prélèvement apparaît sous 5 jours.", Tags: []string{"facturation"}},
		Doc{ID: "mobile", Title: "Forfait mobile", Content: "Le forfait Free 5G inclut les appels illimités et 350 Go de données.", Tags: []string{"mobile"}},
	)
	return b
}

func TestSearchRanksTitleMatches(t *testing.T) {
	b := seedBase()

	results := b.Search("problème facture prélèvement", 5)
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Doc.ID != "facture" {
		t.Errorf("expected billing doc first, got %q", results[0].Doc.ID)
	}
}

func TestSearchNoMatch(t *testing.T) {
	b := seedBase()
	if results := b.Search("xyzzy", 5); results != nil {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSearchLimit(t *testing.T) {
	b := seedBase()
	results := b.Search("free freebox forfait facture", 1)
	if len(results) != 1 {
		t.Errorf("expected 1 result, got %d", len(results))
	}
}

func TestContextAssemblesExcerpts(t *testing.T) {
	b := seedBase()

	ctx := b.Context("ma freebox ne marche plus", 2, 500)
	if !strings.Contains(ctx, "Redémarrer sa Freebox") {
		t.Errorf("expected box article in context, got %q", ctx)
	}
	if b.Context("xyzzy", 2, 500) != "" {
		t.Error("expected empty context with no match")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	single := `{"id":"d1","title":"Doc un","content":"contenu un"}`
	many := `[{"id":"d2","title":"Doc deux","content":"contenu deux"},{"id":"d3","title":"Doc trois","content":"contenu trois"}]`
	os.WriteFile(filepath.Join(dir, "one.json"), []byte(single), 0o644)
	os.WriteFile(filepath.Join(dir, "many.json"), []byte(many), 0o644)
	os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("skip"), 0o644)

	b := New()
	if err := b.LoadDir(dir); err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if b.Len() != 3 {
		t.Errorf("expected 3 docs, got %d", b.Len())
	}
}

func TestLoadDirBadJSON(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "bad.json"), []byte("not json"), 0o644)

	b := New()
	if err := b.LoadDir(dir); err == nil {
		t.Fatal("expected error for malformed document")
	}
}

func TestFetchURL(t *testing.T) {
	page := `<!DOCTYPE html><html><head><title>Activer le WiFi</title></head><body>
		<article><h1>Activer le WiFi</h1>
		<p>Pour activer le WiFi de votre Freebox, ouvrez l'espace abonné puis la rubrique WiFi.
		Cochez la case Activer et validez. Le réseau apparaît au bout de quelques secondes.</p>
		<p>Si le réseau reste invisible, redémarrez la Freebox et vérifiez le canal WiFi choisi.</p>
		</article></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}))
	defer srv.Close()

	b := New()
	if err := b.FetchURL(context.Background(), srv.URL); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if b.Len() != 1 {
		t.Fatalf("expected 1 doc, got %d", b.Len())
	}

	results := b.Search("wifi freebox", 1)
	if len(results) != 1 || !strings.Contains(results[0].Doc.Content, "espace abonné") {
		t.Fatalf("scraped article not searchable: %+v", results)
	}
}

func TestFetchURLErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	b := New()
	if err := b.FetchURL(context.Background(), srv.URL); err == nil {
		t.Fatal("expected error on 404")
	}
}
