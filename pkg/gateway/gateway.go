// Copyright 2026 Nexiot GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gateway is the connection edge of the shadow core: it upgrades
// WebSocket clients, speaks the JSON wire protocol and exposes a small REST
// surface for stateless reads and device decommissioning.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nexiot/shadow-core/pkg/coordinator"
	"github.com/nexiot/shadow-core/pkg/logger"
	"github.com/nexiot/shadow-core/pkg/metrics"
	"github.com/nexiot/shadow-core/pkg/notifier"
	"github.com/nexiot/shadow-core/pkg/shadowerrors"
	"github.com/nexiot/shadow-core/pkg/subscriptions"
)

// Gateway wires the HTTP surface to the shadow core.
type Gateway struct {
	coordinator *coordinator.Coordinator
	registry    *subscriptions.Registry
	bus         *notifier.Notifier
	upgrader    websocket.Upgrader
	log         *zap.SugaredLogger
}

func NewGateway(coord *coordinator.Coordinator, registry *subscriptions.Registry, bus *notifier.Notifier) *Gateway {
	return &Gateway{
		coordinator: coord,
		registry:    registry,
		bus:         bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Access control happens upstream, the gateway accepts any
			// origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.For(logger.ComponentGateway),
	}
}

// Router builds the gin engine with all routes attached.
func (g *Gateway) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/ws", g.handleWebSocket)

	v1 := router.Group("/v1")
	{
		v1.GET("/devices/:deviceId/shadow", g.handleGetShadow)
		v1.GET("/devices/:deviceId/shadow/delta", g.handleGetDelta)
		v1.DELETE("/devices/:deviceId/shadow", g.handleDeleteShadow)
	}

	return router
}

// Serve runs the gateway on addr until ctx is cancelled, then drains with
// the given shutdown timeout.
func (g *Gateway) Serve(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           g.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := <-serveErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (g *Gateway) handleWebSocket(c *gin.Context) {
	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		metrics.IncErrorCount(metrics.ComponentGateway)
		g.log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	session := newSession(conn, g.coordinator, g.registry, g.bus)
	g.log.Infof("Session %s connected from %s", session.ID(), c.ClientIP())
	session.Run(c.Request.Context())
}

func (g *Gateway) handleGetShadow(c *gin.Context) {
	doc, err := g.coordinator.GetShadow(c.Request.Context(), c.Param("deviceId"))
	if err != nil {
		g.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}

func (g *Gateway) handleGetDelta(c *gin.Context) {
	delta, version, err := g.coordinator.GetDelta(c.Request.Context(), c.Param("deviceId"))
	if err != nil {
		g.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deviceId": c.Param("deviceId"),
		"version":  version,
		"delta":    delta,
	})
}

func (g *Gateway) handleDeleteShadow(c *gin.Context) {
	if err := g.coordinator.DeleteShadow(c.Request.Context(), c.Param("deviceId")); err != nil {
		g.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (g *Gateway) writeError(c *gin.Context, err error) {
	code := shadowerrors.WireCode(err)

	status := http.StatusInternalServerError
	switch code {
	case shadowerrors.CodeShadowNotFound:
		status = http.StatusNotFound
	case shadowerrors.CodeVersionConflict:
		status = http.StatusConflict
	case shadowerrors.CodeSubscriptionFailed:
		status = http.StatusTooManyRequests
	default:
		metrics.IncErrorCount(metrics.ComponentGateway)
	}

	c.JSON(status, gin.H{"code": code, "message": err.Error()})
}
