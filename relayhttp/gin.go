package relayhttp

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

const healthPath = "/health"

func RegisterGinRoutes(r gin.IRouter, cfg Config) error {
	if r == nil {
		return fmt.Errorf("router is nil")
	}
	route := normalizeRoute(cfg.Route)
	if route == healthPath {
		return fmt.Errorf("route %q conflicts with health endpoint", route)
	}
	relayHandler, err := Handler(cfg)
	if err != nil {
		return err
	}

	r.GET(healthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.Any(route, gin.WrapF(relayHandler))
	return nil
}
