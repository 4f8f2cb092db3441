/*
Package monitoring exports Prometheus metrics for the HTTP surface and the
analysis pipeline.

# Usage

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

Every recording method tolerates a nil *Metrics.
*/
package monitoring
