/*
Package health implements Bay's readiness probe: polling a Ship's /health
endpoint until it answers 200 or a cumulative timeout is reached.

# Architecture

	┌──────────────────────────────────────────────┐
	│  WaitUntilReady(ctx, checker, cfg)            │
	│  • every cfg.Interval: checker.Check(ctx)     │
	│  • stop on first Healthy result               │
	│  • give up once cfg.Timeout has elapsed       │
	└──────────────────────────────────────────────┘

HTTPChecker is the only Checker implementation Bay needs: Ships expose a
single HTTP endpoint at http://{ip}:8123/health. Each individual attempt
carries its own short per-request timeout (set via WithTimeout); the outer
PollConfig.Timeout bounds the whole wait, independent of how many attempts
that allows.

	checker := health.NewHTTPChecker(fmt.Sprintf("http://%s:8123/health", ip)).
		WithTimeout(5 * time.Second)

	ready := health.WaitUntilReady(ctx, checker, health.PollConfig{
		Interval: cfg.ShipHealthCheckInterval,
		Timeout:  cfg.ShipHealthCheckTimeout,
	})

A failed individual attempt (connection refused, non-200, timeout) is not
an error from WaitUntilReady's point of view — it's retried until the
budget runs out, matching the Allocator's expectation that readiness-gating
never raises, only returns a boolean.
*/
package health
