/*
Package client is the Go client for the hub's HTTP API.

It serves two callers. Instance containers use the federation methods:
Exchange once at first boot to trade the bootstrap token from their
config document for a federation token, then hand that token to sibling
services which Validate it. Operator tooling uses the read methods to
watch instances, pipelines, and the event ring without touching the
control database.

The hub takes no mutating commands over HTTP apart from the federation
routes, so neither does this client. Creating, destroying, suspending,
and resuming instances is the operator CLI's job.

Every method takes a context; the underlying HTTP client also carries a
10s backstop timeout. Non-2xx responses come back as *APIError with the
server's error body. The federation routes answer an indistinguishable
401 for every refusal; Denied recognizes it:

	token, err := c.Exchange(ctx, domain, bootstrap)
	if client.Denied(err) {
		// The bootstrap token is spent or stale. Restarting the
		// instance renders a fresh one; retrying cannot help.
	}
*/
package client
