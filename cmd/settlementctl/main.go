package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kevin07696/harvest-settlement/internal/bootstrap"
	"github.com/kevin07696/harvest-settlement/internal/config"
)

var Version = "dev"

func main() {
	var app *bootstrap.App

	connect := func(ctx context.Context) (Operator, error) {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return nil, err
		}
		logger, err := bootstrap.Logger(cfg.Logger)
		if err != nil {
			return nil, err
		}
		app, err = bootstrap.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return app.Service, nil
	}

	rootCmd := newRootCmd(connect)
	err := rootCmd.Execute()
	if app != nil {
		app.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
