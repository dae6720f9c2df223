package main

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/searchsync/indexqueue/internal/app"
	"github.com/searchsync/indexqueue/internal/config"
)

type commandContext struct {
	configFlag  string
	jsonFlag    bool
	verboseFlag bool

	appOnce sync.Once
	app     *app.App
	appErr  error
}

func newCommandContext() *commandContext {
	return &commandContext{}
}

// newCommandContextWithApp is used by tests to run commands against a
// prepared in-memory application.
func newCommandContextWithApp(a *app.App) *commandContext {
	c := &commandContext{app: a}
	c.appOnce.Do(func() {})
	return c
}

func (c *commandContext) logger() *zap.Logger {
	if !c.verboseFlag {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func (c *commandContext) ensureApp(ctx context.Context) (*app.App, error) {
	c.appOnce.Do(func() {
		path := strings.TrimSpace(c.configFlag)
		var (
			cfg *config.Config
			err error
		)
		if path != "" {
			cfg, err = config.LoadFile(path)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			c.appErr = err
			return
		}
		c.app, c.appErr = app.New(ctx, cfg, c.logger(), app.Options{})
	})
	return c.app, c.appErr
}

func (c *commandContext) close() {
	if c.app != nil {
		c.app.Close()
	}
}
