// Package proxy forwards inbound requests to registered backend services.
//
// An Engine resolves a service name through a Resolver, rewrites the
// request onto the backend's base URL and issues exactly one outbound
// attempt over a shared client. Failures are reported as typed errors so
// the HTTP layer can choose a status code without inspecting error text:
//
//   - ServiceNotFoundError when the name is not registered
//   - UpstreamError with Kind Timeout, Unreachable or Canceled
//
// The response body is returned unread and must be closed by the caller.
//
// # Usage
//
//	engine := proxy.NewEngine(registry, pool.Client(),
//	    proxy.WithLogger(logger),
//	    proxy.WithMetrics(metrics),
//	)
//	res, err := engine.Forward(ctx, &proxy.ForwardRequest{
//	    Service: "users",
//	    Method:  http.MethodGet,
//	    Path:    "/v1/profile",
//	})
//	if err != nil {
//	    return err
//	}
//	defer res.Body.Close()
package proxy
