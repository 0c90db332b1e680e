package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRedact(t *testing.T) {
	cases := map[string]string{
		"":                          "",
		"call 0812 3456 7890 today": "call [REDACTED:phone] today",
		"mail ops@example.co.id":    "mail [REDACTED:email]",
		"id 123e4567-e89b-12d3-a456-426614174000": "id [REDACTED:id]",
		"AWB 12 pcs":                "AWB 12 pcs",
	}
	for in, want := range cases {
		if got := Redact(in); got != want {
			t.Errorf("Redact(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRedactQuery(t *testing.T) {
	mask := lowerSet(nil, "token")
	if got := redactQuery("", mask); got != "" {
		t.Fatalf("empty query = %q", got)
	}
	got := redactQuery("Token=abc&email=a@b.com&page=2", mask)
	if !strings.Contains(got, "Token=[REDACTED]") || !strings.Contains(got, "email=[REDACTED:email]") || !strings.Contains(got, "page=2") {
		t.Fatalf("redactQuery = %q", got)
	}
	if strings.Contains(got, "abc") {
		t.Fatalf("credential leaked: %q", got)
	}
	// Unparsable queries are scrubbed whole.
	if got := redactQuery("x=%zz&mail=a@b.com", mask); !strings.Contains(got, "[REDACTED:email]") {
		t.Fatalf("bad query not scrubbed: %q", got)
	}
}

func TestRedactingLogger_InfoAndRedactions(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), Identity(), RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Sheets-Token"}}))
	r.GET("/partners/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	q := "email=ops@example.com&api_key=AIzaSecret&phone=0812-3456-7890&ref=123e4567-e89b-12d3-a456-426614174000"
	req := httptest.NewRequest(http.MethodGet, "/partners/p-1?"+q, nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("X-Goog-Api-Key", "AIzaHeader")
	req.Header.Set("X-Sheets-Token", "shhh")
	req.Header.Set("X-Custom", "email a@b.com id=123e4567-e89b-12d3-a456-426614174000")
	req.Header.Set(requestIDHeader, "rid-1")
	req.Header.Set(HeaderUserID, "maria")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	logs := buf.String()
	for _, want := range []string{
		`"level":"info"`,
		`"message":"http_request"`,
		`"path":"/partners/:id"`,
		`"request_id":"rid-1"`,
		`"user_id":"maria"`,
		`[REDACTED:email]`,
		`[REDACTED:phone]`,
		`[REDACTED:id]`,
		`api_key=[REDACTED]`,
		`"Authorization":"[REDACTED]"`,
		`"X-Goog-Api-Key":"[REDACTED]"`,
		`"X-Sheets-Token":"[REDACTED]"`,
		`"X-Custom":"email [REDACTED:email] id=[REDACTED:id]"`,
	} {
		if !strings.Contains(logs, want) {
			t.Fatalf("missing %s in log: %s", want, logs)
		}
	}
	for _, leak := range []string{"AIzaSecret", "AIzaHeader", "shhh", "ops@example.com"} {
		if strings.Contains(logs, leak) {
			t.Fatalf("leaked %q: %s", leak, logs)
		}
	}
}

func TestRedactingLogger_Levels(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := captureLogger(t)

	r := gin.New()
	r.Use(RequestID(), RedactingLogger(RedactOptions{}))
	r.GET("/warn", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/error", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	for _, p := range []string{"/warn", "/error", "/unrouted"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	logs := buf.String()
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, `"level":"error"`) {
		t.Fatalf("expected warn and error lines: %s", logs)
	}
	if !strings.Contains(logs, `"path":"/unrouted"`) {
		t.Fatalf("unrouted requests log the raw path: %s", logs)
	}
}
