package server

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestParseID(t *testing.T) {
	valid := map[string]int64{"1": 1, "42": 42, "9007199254740993": 9007199254740993}
	invalid := []string{"", "0", "-1", "abc", "1.5", "12a"}
	for s, want := range valid {
		got, err := parseID(s)
		if err != nil || got != want {
			t.Fatalf("parseID(%q) = %d, %v", s, got, err)
		}
	}
	for _, s := range invalid {
		if _, err := parseID(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestWriteJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) { writeJSON(c, 201, map[string]any{"a": 1}) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type: %s", ct)
	}
	if body := rec.Body.String(); body != "{\"a\":1}\n" {
		t.Fatalf("body = %q", body)
	}
}
