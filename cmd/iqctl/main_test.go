package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/app"
	"github.com/searchsync/indexqueue/internal/auth"
	"github.com/searchsync/indexqueue/internal/config"
	"github.com/searchsync/indexqueue/internal/domain"
	"github.com/searchsync/indexqueue/internal/endpoint"
	"github.com/searchsync/indexqueue/internal/source"
)

type cliEnv struct {
	app *app.App
	src *source.StaticRecordSource
}

func setupCLITestEnv(t *testing.T) cliEnv {
	t.Helper()
	t.Setenv("INDEX_QUEUE_SECRET", "cli-secret")
	t.Setenv("QUEUE_BACKEND", "memory")
	cfg, err := config.LoadFile("")
	require.NoError(t, err)

	eh := endpoint.NewHandler(zap.NewNop())
	eh.Register("indexPage", endpoint.PingAction())
	srv := httptest.NewServer(endpoint.Routes(auth.NewVerifier(cfg.Secret, nil, zap.NewNop()), eh, zap.NewNop()))
	t.Cleanup(srv.Close)

	cfg.RenderBaseURL = srv.URL
	cfg.DispatchTimeout = 2 * time.Second

	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.Options{})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	src, ok := a.Records.(*source.StaticRecordSource)
	require.True(t, ok)
	return cliEnv{app: a, src: src}
}

func runCLI(t *testing.T, env cliEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(newCommandContextWithApp(env.app))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_InitStatsAndIndex(t *testing.T) {
	env := setupCLITestEnv(t)
	env.src.Add("main",
		domain.SourceRecord{Table: "pages", UID: 1, PageID: 1},
		domain.SourceRecord{Table: "pages", UID: 2, PageID: 2},
	)

	out, err := runCLI(t, env, "init", "main", "pages")
	require.NoError(t, err)
	assert.Contains(t, out, "pages")
	assert.Contains(t, out, "Inserted")

	out, err = runCLI(t, env, "stats", "main")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending")
	assert.Contains(t, out, "all")

	out, err = runCLI(t, env, "index", "main", "--max", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "Claimed 2, indexed 2, failed 0")

	out, err = runCLI(t, env, "--json", "stats", "main", "--configuration", "pages")
	require.NoError(t, err)
	var st domain.Statistics
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, domain.Statistics{Total: 2, Indexed: 2}, st)

	out, err = runCLI(t, env, "errors", "main")
	require.NoError(t, err)
	assert.Contains(t, out, "No failed items")
}

func TestCLI_InitWithoutConfiguration(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := runCLI(t, env, "init", "main")
	require.ErrorIs(t, err, domain.ErrNoConfigurationSelected)
	assert.Contains(t, err.Error(), "pages")
}

func TestCLI_ShowClearAndReset(t *testing.T) {
	env := setupCLITestEnv(t)
	env.src.Add("main", domain.SourceRecord{Table: "pages", UID: 7, PageID: 7})
	_, err := runCLI(t, env, "init", "main", "pages")
	require.NoError(t, err)

	out, err := runCLI(t, env, "show", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "pages:7")
	assert.Contains(t, out, "never")

	_, err = runCLI(t, env, "show", "99")
	assert.ErrorContains(t, err, "not found")

	out, err = runCLI(t, env, "reset-errors")
	require.NoError(t, err)
	assert.Contains(t, out, "Reset errors on 0 items")

	out, err = runCLI(t, env, "clear", "main")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 items from main")
}

func TestCLI_Configurations(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := runCLI(t, env, "--json", "configurations")
	require.NoError(t, err)
	var configs []domain.IndexingConfiguration
	require.NoError(t, json.Unmarshal([]byte(out), &configs))
	assert.Equal(t, []domain.IndexingConfiguration{{Name: "pages", Table: "pages"}}, configs)
}
