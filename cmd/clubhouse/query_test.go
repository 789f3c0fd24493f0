package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func runQuery(t *testing.T, h http.Handler, args ...string) error {
	srv := httptest.NewServer(h)
	defer srv.Close()

	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.StringFlag{Name: "repo"}}
	app.Commands = []*cli.Command{queryCMD}
	base := []string{"clubhouse", "--repo", t.TempDir(), "query", "--api", strings.TrimPrefix(srv.URL, "http://")}
	return app.Run(append(base, args...))
}

func TestQuery(t *testing.T) {
	var got []string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.URL.RequestURI())
		if strings.HasSuffix(r.URL.Path, "/proposals/9") {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"proposal 9: not found","code":"not_found"}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})

	require.Nil(t, runQuery(t, h, "treasury"))
	require.Nil(t, runQuery(t, h, "member"))
	require.Nil(t, runQuery(t, h, "pending", "0x00000000000000000000000000000000000000c1"))
	require.Nil(t, runQuery(t, h, "proposal"))
	require.Nil(t, runQuery(t, h, "logs", "--from", "2", "--address", "0x0000000000000000000000000000000000001002"))
	assert.Equal(t, []string{
		"/api/v1/treasury",
		"/api/v1/treasury/members",
		"/api/v1/staking/accounts/0x00000000000000000000000000000000000000c1",
		"/api/v1/governance/proposals",
		"/api/v1/logs?address=0x0000000000000000000000000000000000001002&from=2",
	}, got)

	err := runQuery(t, h, "proposal", "9")
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "not_found")

	assert.NotNil(t, runQuery(t, h, "proposal", "x"))
	assert.NotNil(t, runQuery(t, h, "pending"))
}

func TestQueryRetriesUnavailableAPI(t *testing.T) {
	calls := 0
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"inflow":"0"}`))
	})
	require.Nil(t, runQuery(t, h, "treasury"))
	assert.Equal(t, 3, calls)

	// client errors are final
	calls = 0
	h = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"bad","code":"invalid_argument"}`))
	})
	assert.NotNil(t, runQuery(t, h, "treasury"))
	assert.Equal(t, 1, calls)
}
