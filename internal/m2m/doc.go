// Package m2m is a client for a machine-to-machine satellite scene catalog.
//
// The service speaks JSON over HTTPS. Every call is a POST to
// <serviceURL>/<endpoint>, authenticated by the X-Auth-Token header, and
// every response is an envelope:
//
//	{"data": ..., "errorCode": null, "errorMessage": null}
//
// The envelope is checked once, in Session.Send. A status other than 200,
// a non-null errorCode, or a malformed body becomes an *APIError, so the
// typed operations of Client only ever see the data member.
//
// # Session
//
// A Session resolves credentials and holds the auth token:
//
//	session := m2m.NewSession(m2m.DefaultServiceURL, m2m.SessionOptions{
//	    Store:    config.NewCredentialStore(""),
//	    Prompter: m2m.NewTerminalPrompter(),
//	})
//	if err := session.Authenticate(ctx, m2m.Credentials{Username: "me"}); err != nil {
//	    return err
//	}
//	defer session.Logout(context.Background())
//
// # Client
//
// Client wraps the catalog endpoints: dataset and scene search, scene
// lists, download options, and download orders.
//
// # Errors
//
//   - *AuthError: missing or rejected credentials
//   - *ValidationError: a parameter rejected before any request
//   - *TransportError: no response, typically after every retry timed out
//   - *APIError: the service rejected the request
package m2m
