// Package api provides a minimal KuCoin REST client.
//
// Only the generic call contract is implemented: a request is sent, retried on
// transient failures, and the {code, msg, data} envelope is unwrapped. The
// websocket session uses it to obtain connect tokens:
//   - POST /api/v1/bullet-public
//   - POST /api/v1/bullet-private (signed)
//
// REST endpoint:
//   - Production: https://api.kucoin.com
package api
