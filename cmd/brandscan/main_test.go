package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/docutag/brandscan/models"
)

const bakeryPage = `<html><head>
<title>Rise Bakery</title>
<meta name="description" content="Sourdough and pastries baked daily.">
</head><body>
<h1>Rise Bakery</h1>
<p>Fresh sourdough every morning.</p>
<a href="https://instagram.com/risebakery">Follow us</a>
<a href="/collections/bread">Shop bread</a>
</body></html>`

const bakeryReply = `{"business_name": "Rise Bakery", "industry": "Bakery", "vibe": "cozy", "theme_color": "#C8553D"}`

func newTestServers(t *testing.T, reply string) (site, ollama *httptest.Server) {
	t.Helper()
	site = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(bakeryPage))
	}))
	t.Cleanup(site.Close)

	ollama = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(models.OllamaResponse{Response: reply, Done: true})
	}))
	t.Cleanup(ollama.Close)
	return site, ollama
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("FIRECRAWL_API_KEY", "")
	t.Setenv("LLM_PROVIDER", "")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), err
}

func TestExtractCommand(t *testing.T) {
	site, ollama := newTestServers(t, bakeryReply)

	out, err := runCLI(t, "extract", site.URL, "--llm-url", ollama.URL, "--max-links", "1")
	if err != nil {
		t.Fatalf("extract failed: %v", err)
	}

	var got output
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.Record.Name != "Rise Bakery" || got.Record.Handle != "rise-bakery" {
		t.Errorf("unexpected record %+v", got.Record)
	}
	if got.Record.Colors.Primary != "#C8553D" {
		t.Errorf("primary color = %q", got.Record.Colors.Primary)
	}
	if len(got.Record.Links) != 1 || got.Record.Links[0].Category != models.CategoryInstagram {
		t.Errorf("links = %+v", got.Record.Links)
	}
	if got.FetchPath != "direct" {
		t.Errorf("fetch path = %q", got.FetchPath)
	}
}

func TestExtractCommandModelFailure(t *testing.T) {
	site, ollama := newTestServers(t, "I cannot help with that.")

	_, err := runCLI(t, "extract", site.URL, "--llm-url", ollama.URL)
	if err == nil {
		t.Fatal("expected an error for unparseable model output")
	}
}

func TestAskCommand(t *testing.T) {
	site, ollama := newTestServers(t, bakeryReply)

	out, err := runCLI(t, "ask", site.URL, "Are you open Sunday?", "--llm-url", ollama.URL)
	if err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	// The fake backend answers every prompt with the same text
	if strings.TrimSpace(out) != bakeryReply {
		t.Errorf("reply = %q", out)
	}
}

func TestCommandArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		wantOut string
	}{
		{name: "extract without url", args: []string{"extract"}, wantErr: true},
		{name: "ask without message", args: []string{"ask", "https://example.com"}, wantErr: true},
		{name: "unknown provider", args: []string{"extract", "https://example.com", "--llm-provider", "bard"}, wantErr: true},
		{name: "version", args: []string{"version"}, wantOut: "brandscan version " + version},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantOut != "" && !strings.Contains(out, tt.wantOut) {
				t.Errorf("output = %q, want %q", out, tt.wantOut)
			}
		})
	}
}

func TestRunMigrate(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		setup   func(mock sqlmock.Sqlmock)
		wantOut []string
		wantErr bool
	}{
		{
			name:   "status",
			action: "status",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT COALESCE").
					WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
			},
			wantOut: []string{"VERSION", `create_brandscan_extractions_table\s+true`, `create_handle_index\s+false`},
		},
		{
			name:   "rollback",
			action: "rollback",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT COALESCE").
					WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
				mock.ExpectBegin()
				mock.ExpectExec("DROP INDEX").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectExec("DELETE FROM brandscan_schema_version").
					WithArgs(3).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
				mock.ExpectQuery("SELECT COALESCE").
					WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(2))
			},
			wantOut: []string{"rolled back one migration", `add_snapshot_columns\s+true`, `create_handle_index\s+false`},
		},
		{
			name:   "rollback with nothing applied",
			action: "rollback",
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT COALESCE").
					WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))
			},
			wantErr: true,
		},
		{
			name:    "unknown action",
			action:  "drop",
			setup:   func(mock sqlmock.Sqlmock) {},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create sqlmock: %v", err)
			}
			defer conn.Close()
			tt.setup(mock)

			var out bytes.Buffer
			err = runMigrate(context.Background(), conn, tt.action, &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			for _, want := range tt.wantOut {
				if !regexp.MustCompile(want).MatchString(out.String()) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestMigrateCommandNeedsDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")

	if _, err := runCLI(t, "migrate", "status"); err == nil || !strings.Contains(err.Error(), "no database configured") {
		t.Fatalf("expected missing database error, got %v", err)
	}
	if _, err := runCLI(t, "migrate", "explode"); err == nil {
		t.Fatal("expected an error for an invalid action")
	}
}
