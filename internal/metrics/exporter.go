package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cellemitter/emitter/pkg/logger"
)

// Handler serves the collector's registry in the prometheus exposition
// format. A nil collector serves 404.
func Handler(c *Collector, log *logger.Logger) http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(
		c.registry,
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			Timeout:           10 * time.Second,
			ErrorLog:          log.StdLogger(),
		},
	)
}
