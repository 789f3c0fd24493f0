package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/axiomesh/axiom-kit/log"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/axiomesh/clubhouse"
	"github.com/axiomesh/clubhouse/api"
	"github.com/axiomesh/clubhouse/app"
	"github.com/axiomesh/clubhouse/repo"
)

func start(ctx *cli.Context) error {
	p, err := getRootPath(ctx)
	if err != nil {
		return err
	}
	r, err := repo.Load(p)
	if err != nil {
		return err
	}
	if err := r.Lock(); err != nil {
		return err
	}
	defer r.Unlock()

	err = log.Initialize(
		log.WithReportCaller(r.Config.Log.ReportCaller),
		log.WithPersist(true),
		log.WithFilePath(r.Config.LogsPath()),
		log.WithFileName(r.Config.Log.Filename),
		log.WithMaxAge(r.Config.Log.MaxAge),
		log.WithRotationTime(r.Config.Log.RotationTime),
	)
	if err != nil {
		return errors.Wrap(err, "log initialize")
	}
	logger := log.New()
	logger.SetLevel(log.ParseLevel(r.Config.Log.Level))

	printVersion()

	sigCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := app.New(sigCtx, r.Config, logger.WithField("module", "app"))
	if err != nil {
		return errors.Wrap(err, "new clubhouse")
	}
	if err := node.Start(); err != nil {
		_ = node.Stop()
		return errors.Wrap(err, "start clubhouse")
	}

	g, gctx := errgroup.WithContext(sigCtx)
	if r.Config.API.Enable {
		server := api.NewServer(node, r.Config.API, logger.WithField("module", "api"))
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), r.Config.API.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	fmt.Println("=============Clubhouse is ready=============")

	err = g.Wait()
	fmt.Println("shutting down...")
	if stopErr := node.Stop(); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

func printVersion() {
	fmt.Printf("Clubhouse version: %s-%s-%s\n", clubhouse.CurrentVersion, clubhouse.CurrentBranch, clubhouse.CurrentCommit)
	fmt.Printf("App build date: %s\n", clubhouse.BuildDate)
	fmt.Printf("System version: %s\n", clubhouse.Platform)
	fmt.Printf("Golang version: %s\n", clubhouse.GoVersion)
	fmt.Fprintln(os.Stdout)
}
