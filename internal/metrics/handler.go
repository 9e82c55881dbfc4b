package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default registry: the metrics of this package plus the
// Go runtime and process collectors.
func Handler() http.Handler {
	return promhttp.Handler()
}
