package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/starford/bibcite/internal/citeservice"
	"github.com/starford/bibcite/internal/directive"
	"github.com/starford/bibcite/internal/fetch"
	"github.com/starford/bibcite/internal/library"
	"github.com/starford/bibcite/internal/render"
	"github.com/starford/bibcite/internal/style"
	"github.com/starford/bibcite/internal/testutil"
)

const bibLibrary = `@article{smith2020,
  author = {Smith, John and Doe, Jane},
  title = {{API} Design},
  journal = {Journal of APIs},
  year = 2020
}
@book{jones2019,
  author = {Jones, Ann},
  title = {Bar},
  publisher = {Acme},
  year = 2019
}`

const titleStyle = `<style xmlns="http://purl.org/net/xbiblio/csl"><citation><layout>
<text variable="title"/></layout></citation></style>`

type apiEnv struct {
	router http.Handler
	server *testutil.LibraryServer
}

// testEnv wires a real service against a local library server. An empty
// token means auth is disabled.
func testEnv(t *testing.T, authToken string) *apiEnv {
	t.Helper()
	return testEnvWithSSE(t, authToken, nil)
}

func testEnvWithSSE(t *testing.T, authToken string, sseHandler http.Handler) *apiEnv {
	t.Helper()

	db := testutil.TestDB(t)
	srv := testutil.NewLibraryServer(t, bibLibrary)
	_, styles := testutil.TestAssets(t, style.Ext)
	_, templates := testutil.TestAssets(t, render.TemplateExt)

	logger := slog.Default()
	srvURL, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	syncer := library.NewSynchronizer(fetch.New(fetch.Config{}, db, logger), library.NewCachedStore(db), db, logger,
		library.WithHostPolicy(library.NewHostPolicy(srvURL.Hostname())))
	r := render.New(logger, render.WithStyles(styles), render.WithTemplates(templates))
	defs := directive.DefaultDefaults()
	defs.LibraryURL = srv.URL
	proc := directive.NewProcessor(syncer, r, defs, logger)
	svc := citeservice.NewService(syncer, db, r, proc, citeservice.WithAssets(styles, templates))

	return &apiEnv{
		router: NewRouter(svc, authToken != "", authToken, sseHandler),
		server: srv,
	}
}

func do(t *testing.T, h http.Handler, method, target string, body []byte, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRender(t *testing.T) {
	env := testEnv(t, "")

	body, _ := json.Marshal(RenderRequest{
		DocumentID: "post-1",
		Content:    `Text [bibshow]A[bibcite key=smith2020] B[bibcite key=jones2019] C[bibcite key=smith2020][/bibshow]`,
	})
	w := do(t, env.router, http.MethodPost, "/render", body, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp RenderResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(resp.HTML, "Text A") {
		t.Errorf("html = %q", resp.HTML)
	}
	if !strings.Contains(resp.HTML, "API Design") || !strings.Contains(resp.HTML, "Bar") {
		t.Errorf("bibliography missing entries: %q", resp.HTML)
	}
	if strings.Contains(resp.HTML, "[bib") {
		t.Errorf("directive left in output: %q", resp.HTML)
	}
}

func TestRender_BadRequest(t *testing.T) {
	env := testEnv(t, "")

	if w := do(t, env.router, http.MethodPost, "/render", []byte("{"), ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid json = %d, want 400", w.Code)
	}
	if w := do(t, env.router, http.MethodPost, "/render", []byte(`{"content":""}`), ""); w.Code != http.StatusBadRequest {
		t.Errorf("empty content = %d, want 400", w.Code)
	}
}

func TestEntries(t *testing.T) {
	env := testEnv(t, "")

	w := do(t, env.router, http.MethodGet, "/entries?key=smith2020", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get entry = %d, body = %s", w.Code, w.Body.String())
	}
	var rec map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &rec)
	if rec["title"] != "API Design" || rec["type"] != "article-journal" {
		t.Errorf("record = %v", rec)
	}

	w = do(t, env.router, http.MethodGet, "/entries", nil, "")
	var keys KeysResponse
	_ = json.Unmarshal(w.Body.Bytes(), &keys)
	if strings.Join(keys.Keys, ",") != "jones2019,smith2020" {
		t.Errorf("keys = %v", keys.Keys)
	}

	w = do(t, env.router, http.MethodGet, "/entries?q=Acme", nil, "")
	var found EntriesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &found)
	if len(found.Entries) != 1 || found.Entries[0].ID() != "jones2019" {
		t.Errorf("search = %v", found.Entries)
	}

	if w := do(t, env.router, http.MethodGet, "/entries?key=nobody", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("missing key = %d, want 404", w.Code)
	}
}

func TestLibrariesAndRefresh(t *testing.T) {
	env := testEnv(t, "")

	_ = do(t, env.router, http.MethodGet, "/entries", nil, "")
	env.server.SetBody(`@misc{new2024, title = {Fresh}}`)

	w := do(t, env.router, http.MethodPost, "/libraries/refresh", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("refresh = %d, body = %s", w.Code, w.Body.String())
	}
	var res SyncResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if !res.Changed || res.Stored != 1 || res.Format != library.FormatBibTeX {
		t.Errorf("result = %+v", res)
	}

	w = do(t, env.router, http.MethodGet, "/libraries", nil, "")
	var libs LibrariesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &libs)
	if len(libs.Libraries) != 1 || libs.Libraries[0].URL != env.server.URL {
		t.Errorf("libraries = %+v", libs.Libraries)
	}
}

func TestClearCache(t *testing.T) {
	env := testEnv(t, "")

	_ = do(t, env.router, http.MethodGet, "/entries", nil, "")
	if w := do(t, env.router, http.MethodPost, "/cache/clear", nil, ""); w.Code != http.StatusNoContent {
		t.Fatalf("clear = %d", w.Code)
	}
	w := do(t, env.router, http.MethodGet, "/libraries", nil, "")
	var libs LibrariesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &libs)
	if len(libs.Libraries) != 0 {
		t.Errorf("libraries after clear = %+v", libs.Libraries)
	}
}

func TestStyleUploadLifecycle(t *testing.T) {
	env := testEnv(t, "")

	if w := do(t, env.router, http.MethodPut, "/styles/titles", []byte(titleStyle), ""); w.Code != http.StatusNoContent {
		t.Fatalf("put = %d, body = %s", w.Code, w.Body.String())
	}

	w := do(t, env.router, http.MethodGet, "/styles", nil, "")
	var names NamesResponse
	_ = json.Unmarshal(w.Body.Bytes(), &names)
	if !slices.Contains(names.Names, "titles") || !slices.Contains(names.Names, "ieee") {
		t.Errorf("styles = %v", names.Names)
	}

	w = do(t, env.router, http.MethodGet, "/styles/titles", nil, "")
	if w.Code != http.StatusOK || w.Body.String() != titleStyle {
		t.Errorf("get style = %d %q", w.Code, w.Body.String())
	}

	if w := do(t, env.router, http.MethodPut, "/styles/broken", []byte("<html/>"), ""); w.Code != http.StatusBadRequest {
		t.Errorf("invalid style = %d, want 400", w.Code)
	}
	if w := do(t, env.router, http.MethodPut, "/styles/titles", nil, ""); w.Code != http.StatusBadRequest {
		t.Errorf("empty body = %d, want 400", w.Code)
	}

	if w := do(t, env.router, http.MethodDelete, "/styles/titles", nil, ""); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d", w.Code)
	}
	if w := do(t, env.router, http.MethodDelete, "/styles/titles", nil, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestTemplatesAndCatalog(t *testing.T) {
	env := testEnv(t, "")

	if w := do(t, env.router, http.MethodPut, "/templates/plain", []byte(`{{range .Entries}}{{.Entry}}{{end}}`), ""); w.Code != http.StatusNoContent {
		t.Fatalf("put template = %d, body = %s", w.Code, w.Body.String())
	}
	if w := do(t, env.router, http.MethodPut, "/templates/bad", []byte(`{{if}`), ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad template = %d, want 400", w.Code)
	}

	w := do(t, env.router, http.MethodGet, "/catalog", nil, "")
	var cat Catalog
	_ = json.Unmarshal(w.Body.Bytes(), &cat)
	if !slices.Contains(cat.Templates, "plain") || !slices.Contains(cat.Templates, render.FallbackTemplate) {
		t.Errorf("templates = %v", cat.Templates)
	}
	if !slices.Contains(cat.Styles, "apa") {
		t.Errorf("styles = %v", cat.Styles)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	env := testEnv(t, "secret123")
	if w := do(t, env.router, http.MethodPost, "/cache/clear", nil, "secret123"); w.Code != http.StatusNoContent {
		t.Errorf("authed = %d, want 204", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	env := testEnv(t, "secret123")
	if w := do(t, env.router, http.MethodPost, "/cache/clear", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
	if w := do(t, env.router, http.MethodPut, "/styles/x", []byte(titleStyle), ""); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed put = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	env := testEnv(t, "secret123")
	if w := do(t, env.router, http.MethodPost, "/libraries/refresh", nil, "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_ReadRoutesPublic(t *testing.T) {
	env := testEnv(t, "secret123")
	if w := do(t, env.router, http.MethodGet, "/styles", nil, ""); w.Code != http.StatusOK {
		t.Errorf("public read = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	env := testEnv(t, "")
	if w := do(t, env.router, http.MethodPost, "/cache/clear", nil, ""); w.Code == http.StatusUnauthorized {
		t.Error("disabled mode should not require auth")
	}
}

// blockingSSE writes headers and blocks until the request is cancelled.
var blockingSSE = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	<-r.Context().Done()
})

func TestSSEEvents_AuthProtected(t *testing.T) {
	env := testEnvWithSSE(t, "secret", blockingSSE)
	if w := do(t, env.router, http.MethodGet, "/events", nil, ""); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	env := testEnvWithSSE(t, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	env := testEnvWithSSE(t, "tok", blockingSSE)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with query token = %d, want 200", w.Code)
	}

	w = do(t, env.router, http.MethodGet, "/events?access_token=nope", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE with wrong query token = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("missing WWW-Authenticate header")
	}
}

func TestForeignLibraryURLRejected(t *testing.T) {
	env := testEnv(t, "")

	w := do(t, env.router, http.MethodGet, "/entries?url="+url.QueryEscape("http://internal.test/secret")+"&key=a", nil, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("entries with foreign url = %d, want 403", w.Code)
	}

	body, _ := json.Marshal(RenderRequest{Content: `[bibtex file="http://internal.test/secret" key=a]`})
	if w := do(t, env.router, http.MethodPost, "/render", body, ""); w.Code != http.StatusOK {
		t.Fatalf("render status = %d", w.Code)
	}

	w = do(t, env.router, http.MethodGet, "/libraries", nil, "")
	var resp LibrariesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	for _, li := range resp.Libraries {
		if strings.Contains(li.URL, "internal.test") {
			t.Errorf("foreign url stored: %+v", li)
		}
	}
	if env.server.Requests() != 0 {
		t.Errorf("library server hit %d times", env.server.Requests())
	}
}
