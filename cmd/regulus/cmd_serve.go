// Copyright (C) 2026 Regulus Labs (dev@regulus-hq.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/regulus-hq/regulus/services/rules"
)

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	addr := cfg.Serve.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	setupRoutes(router, a)

	srv := &http.Server{Addr: addr, Handler: router}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("rules api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// setupRoutes exposes the read-only consumer surface. Rule mutation only
// happens through the CLI and the lifecycle gate, never over HTTP.
func setupRoutes(router *gin.Engine, a *app) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	{
		v1.GET("/rules/published", func(c *gin.Context) {
			published, err := a.ruleStore.RulesByStatus(c.Request.Context(), rules.StatusPublished)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"rules": published, "count": len(published)})
		})

		v1.GET("/rules/:id", func(c *gin.Context) {
			rule, err := a.ruleStore.GetRule(c.Request.Context(), c.Param("id"))
			if errors.Is(err, rules.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
				return
			}
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, rule)
		})

		v1.GET("/conflicts/open", func(c *gin.Context) {
			open, err := a.ruleStore.OpenConflicts(c.Request.Context())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"conflicts": open, "count": len(open)})
		})

		v1.GET("/evidence/:id", func(c *gin.Context) {
			ev, err := a.evStore.Get(c.Request.Context(), c.Param("id"))
			if err != nil {
				c.JSON(http.StatusNotFound, gin.H{"error": "evidence not found"})
				return
			}
			c.JSON(http.StatusOK, ev)
		})
	}
}
