package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func authBackend(t *testing.T, valid map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/internal/validate" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		userID, ok := valid[body.Token]
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"user_id": userID, "org_id": "org1"})
	}))
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context()) + "|" + GetOrgID(r.Context())))
	})
}

func TestTokenAuthBearerHeader(t *testing.T) {
	backend := authBackend(t, map[string]string{"tok123": "alice"})
	defer backend.Close()

	h := TokenAuth(backend.URL, nil)(echoUser())
	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	req.Header.Set("Authorization", "Bearer tok123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "alice|org1" {
		t.Fatalf("context = %q", rec.Body.String())
	}
}

func TestTokenAuthQueryFallback(t *testing.T) {
	backend := authBackend(t, map[string]string{"tok123": "alice"})
	defer backend.Close()

	// EventSource не умеет ставить заголовки, токен приходит в query.
	h := TokenAuth(backend.URL, nil)(echoUser())
	req := httptest.NewRequest(http.MethodGet, "/api/stream?token=tok123", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTokenAuthRejects(t *testing.T) {
	backend := authBackend(t, map[string]string{"tok123": "alice"})
	defer backend.Close()

	h := TokenAuth(backend.URL, nil)(echoUser())

	for name, setup := range map[string]func(*http.Request){
		"no token":      func(r *http.Request) {},
		"invalid token": func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") },
		"wrong scheme":  func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcg==") },
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
		setup(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", name, rec.Code)
		}
	}
}

func TestInternalOnly(t *testing.T) {
	t.Setenv("INTERNAL_EVENTS_SECRET", "s3cret")
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) })
	h := InternalOnly(ok)

	cases := []struct {
		name  string
		setup func(*http.Request)
		want  int
	}{
		{"private ip", func(r *http.Request) { r.RemoteAddr = "10.0.0.5:1234" }, http.StatusAccepted},
		{"loopback", func(r *http.Request) { r.RemoteAddr = "127.0.0.1:1234" }, http.StatusAccepted},
		{"secret header", func(r *http.Request) {
			r.RemoteAddr = "203.0.113.7:1234"
			r.Header.Set("X-Internal-Secret", "s3cret")
		}, http.StatusAccepted},
		{"public ip", func(r *http.Request) { r.RemoteAddr = "203.0.113.7:1234" }, http.StatusForbidden},
		{"wrong secret", func(r *http.Request) {
			r.RemoteAddr = "203.0.113.7:1234"
			r.Header.Set("X-Internal-Secret", "nope")
		}, http.StatusForbidden},
		{"forwarded public", func(r *http.Request) {
			r.RemoteAddr = "10.0.0.5:1234"
			r.Header.Set("X-Real-Ip", "203.0.113.7")
		}, http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/internal/events", nil)
		tc.setup(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: status = %d, want %d", tc.name, rec.Code, tc.want)
		}
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("abcdef123456"); got != "abcd***" {
		t.Fatalf("mask = %q", got)
	}
	if got := MaskToken("ab"); got != "****" {
		t.Fatalf("short mask = %q", got)
	}
}
