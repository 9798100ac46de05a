package app_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/article-harvester/internal/app"
	"github.com/JakeFAU/article-harvester/internal/config"
	"github.com/JakeFAU/article-harvester/internal/report"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	page := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(body))
		}
	}
	mux.HandleFunc("/list/index.html", page(`<div class="list"><a href="/art/1.html">一</a><a href="/art/2.html">二</a></div>`))
	mux.HandleFunc("/list/index_2.html", page(`<div class="list"><a href="/art/2.html">二</a><a href="/art/3.html">三</a></div>`))
	mux.HandleFunc("/art/1.html", page(`<h1>第一篇</h1><div class="content"><p>正文一</p></div>`))
	mux.HandleFunc("/art/2.html", page(`<h1>第二篇</h1><div class="content"><p>正文二</p></div>`))
	mux.HandleFunc("/art/3.html", http.NotFound)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func baseConfig(t *testing.T, site string) config.Config {
	t.Helper()
	return config.Config{
		Crawl: config.CrawlConfig{
			Template:  site + "/list/index_{page}.html",
			FirstPage: site + "/list/index.html",
			Pages:     2,
			Workers:   2,
		},
		HTTP:   config.HTTPConfig{TimeoutSeconds: 2, MaxAttempts: 1},
		Parser: config.ParserConfig{Name: "generic", PaginationMarker: "index_"},
		Output: config.OutputConfig{Dir: t.TempDir(), Format: "json", Batch: "batch", Aggregate: true},
	}
}

func TestRunWritesLocalOutput(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	cfg := baseConfig(t, site.URL)
	var console bytes.Buffer

	a, err := app.New(context.Background(), cfg, zaptest.NewLogger(t), app.WithReporter(report.NewConsole(&console)))
	require.NoError(t, err)
	defer a.Close()
	assert.NotEmpty(t, a.RunID)
	assert.Equal(t, "generic", a.Parser.Name())
	assert.Len(t, a.Sinks, 1)

	result, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Stats.ListingPages)
	assert.Equal(t, 3, result.Summary.Submitted)
	assert.Equal(t, 2, result.Summary.Succeeded)
	assert.Equal(t, 1, result.Summary.Failed)

	assert.FileExists(t, filepath.Join(cfg.Output.Dir, "01_第一篇.json"))
	assert.FileExists(t, filepath.Join(cfg.Output.Dir, "02_第二篇.json"))
	assert.FileExists(t, filepath.Join(cfg.Output.Dir, "batch.json"))
	assert.FileExists(t, filepath.Join(cfg.Output.Dir, "batch_failures.json"))

	out := console.String()
	assert.Contains(t, out, "Fetching: "+site.URL+"/art/1.html")
	assert.Contains(t, out, "[WARN] "+site.URL+"/art/3.html")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "Done: 2 succeeded, 1 failed (of 3 submitted)"), out)
}

func TestRunFansOutToCloudSinks(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	var uploads atomic.Int32
	gcsServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/harvest-bucket/o")
		uploads.Add(1)
		_, _ = w.Write([]byte(`{"name": "obj", "bucket": "harvest-bucket"}`))
	}))
	t.Cleanup(gcsServer.Close)

	psServer := pstest.NewServer()
	t.Cleanup(func() { _ = psServer.Close() })
	conn, err := grpc.NewClient(psServer.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	admin, err := pubsub.NewClient(context.Background(), "proj", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer admin.Close()
	_, err = admin.CreateTopic(context.Background(), "articles-saved")
	require.NoError(t, err)

	cfg := baseConfig(t, site.URL)
	cfg.GCS = config.GCSConfig{Enabled: true, Bucket: "harvest-bucket", Prefix: "runs"}
	cfg.PubSub = config.PubSubConfig{Enabled: true, ProjectID: "proj", TopicName: "articles-saved"}

	a, err := app.New(context.Background(), cfg, zaptest.NewLogger(t),
		app.WithReporter(report.Nop{}),
		app.WithGCSOptions(option.WithEndpoint(gcsServer.URL), option.WithoutAuthentication()),
		app.WithPubSubOptions(option.WithGRPCConn(conn)),
	)
	require.NoError(t, err)
	defer a.Close()
	assert.Len(t, a.Sinks, 3)

	result, err := a.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Summary.Succeeded)
	assert.Equal(t, int32(3), uploads.Load(), "two records plus the failure log")
	assert.Len(t, psServer.Messages(), 3, "two saved articles plus the batch summary")
}

func TestNewRejectsUnknownParser(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t, "https://example.com")
	cfg.Parser.Name = "xpath"
	_, err := app.New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "select parser")
}

func TestNewRejectsBadDSN(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t, "https://example.com")
	cfg.DB = config.DBConfig{Enabled: true, DSN: "postgres://localhost:notaport/db"}
	_, err := app.New(context.Background(), cfg, nil, app.WithReporter(report.Nop{}))
	assert.ErrorContains(t, err, "init postgres output")
}

func TestNewRejectsUnwritableOutput(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
	cfg := baseConfig(t, "https://example.com")
	cfg.Output.Dir = file
	_, err := app.New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "init local output")
}
