package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/axiomesh/clubhouse/repo"
)

var apiFlag = &cli.StringFlag{
	Name:  "api",
	Usage: "Address of a running clubhouse api, defaults to api.listen of the repo",
}

var queryCMD = &cli.Command{
	Name:  "query",
	Usage: "Query a running clubhouse through its api",
	Flags: []cli.Flag{apiFlag},
	Subcommands: []*cli.Command{
		{
			Name:  "treasury",
			Usage: "Show inflow, team entitlement and staking reserve",
			Action: func(ctx *cli.Context) error {
				return queryAPI(ctx, "/api/v1/treasury", nil)
			},
		},
		{
			Name:  "member",
			Usage: "Show the team members and what they withdrew",
			Action: func(ctx *cli.Context) error {
				return queryAPI(ctx, "/api/v1/treasury/members", nil)
			},
		},
		{
			Name:      "pending",
			Usage:     "Show pending rewards and deposits of a staker",
			ArgsUsage: "<address>",
			Action: func(ctx *cli.Context) error {
				if ctx.NArg() != 1 {
					return errors.New("expect one address")
				}
				return queryAPI(ctx, "/api/v1/staking/accounts/"+url.PathEscape(ctx.Args().First()), nil)
			},
		},
		{
			Name:      "proposal",
			Usage:     "Show one proposal, or all of them without an id",
			ArgsUsage: "[id]",
			Action: func(ctx *cli.Context) error {
				if ctx.NArg() == 0 {
					return queryAPI(ctx, "/api/v1/governance/proposals", nil)
				}
				if _, err := strconv.ParseUint(ctx.Args().First(), 10, 64); err != nil {
					return errors.Errorf("invalid proposal id %q", ctx.Args().First())
				}
				return queryAPI(ctx, "/api/v1/governance/proposals/"+ctx.Args().First(), nil)
			},
		},
		{
			Name:  "logs",
			Usage: "Filter journaled contract logs",
			Flags: []cli.Flag{
				&cli.Uint64Flag{Name: "from", Usage: "first message sequence"},
				&cli.Uint64Flag{Name: "to", Usage: "last message sequence"},
				&cli.StringSliceFlag{Name: "address", Usage: "contract address"},
				&cli.StringSliceFlag{Name: "topic", Usage: "first topic"},
			},
			Action: func(ctx *cli.Context) error {
				q := url.Values{}
				if ctx.IsSet("from") {
					q.Set("from", strconv.FormatUint(ctx.Uint64("from"), 10))
				}
				if ctx.IsSet("to") {
					q.Set("to", strconv.FormatUint(ctx.Uint64("to"), 10))
				}
				for _, a := range ctx.StringSlice("address") {
					q.Add("address", a)
				}
				for _, t := range ctx.StringSlice("topic") {
					q.Add("topic", t)
				}
				return queryAPI(ctx, "/api/v1/logs", q)
			},
		},
	},
}

func apiBase(ctx *cli.Context) (string, error) {
	addr := ctx.String(apiFlag.Name)
	if addr == "" {
		p, err := getRootPath(ctx)
		if err != nil {
			return "", err
		}
		addr = repo.DefaultConfig(p).API.Listen
		if repo.Exist(p) {
			r, err := repo.Load(p)
			if err != nil {
				return "", err
			}
			addr = r.Config.API.Listen
		}
	}
	return "http://" + addr, nil
}

// leveledLogger lets retryablehttp report retries through logrus.
type leveledLogger struct {
	inner logrus.FieldLogger
}

func (l leveledLogger) entry(kv []any) logrus.FieldLogger {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return l.inner.WithFields(fields)
}

func (l leveledLogger) Error(msg string, kv ...any) { l.entry(kv).Error(msg) }
func (l leveledLogger) Info(msg string, kv ...any)  { l.entry(kv).Info(msg) }
func (l leveledLogger) Debug(msg string, kv ...any) { l.entry(kv).Debug(msg) }
func (l leveledLogger) Warn(msg string, kv ...any)  { l.entry(kv).Warn(msg) }

// newAPIClient retries connection errors and 5xx answers, a daemon that is
// still starting up gets a few chances.
func newAPIClient() *retryablehttp.Client {
	logger := log.New()
	logger.SetLevel(logrus.WarnLevel)
	return &retryablehttp.Client{
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		Logger:       leveledLogger{inner: logger.WithField("module", "query")},
		RetryMax:     3,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: time.Second,
		Backoff:      retryablehttp.LinearJitterBackoff,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
	}
}

func queryAPI(ctx *cli.Context, path string, q url.Values) error {
	base, err := apiBase(ctx)
	if err != nil {
		return err
	}
	target := base + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	resp, err := newAPIClient().Get(target)
	if err != nil {
		return errors.Wrap(err, "query clubhouse api")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		out.Reset()
		out.Write(body)
	}
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("%s: %s", resp.Status, bytes.TrimSpace(out.Bytes()))
	}
	fmt.Println(out.String())
	return nil
}
