/*
Package monitoring provides Prometheus metrics for the docrefine backend.

# Overview

Metrics live on a private registry and are served by Handler. They cover
the HTTP surface, router decisions (cache, inline, async), downstream
dependency calls with breaker, retry and fallback outcomes, cache events,
job transitions and shadow runs.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	c := cache.New(cache.Options{Observer: monitoring.NewCacheObserver(metrics)}, nil, logger)

	timer := monitoring.NewTimer(metrics, "completion")
	defer timer.Stop("ok")
*/
package monitoring
