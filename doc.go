// Package authsync keeps a web application's sign-in state in step with an
// external identity provider and the application's own API.
//
// The pieces live in sub-packages:
//
//   - idp defines the identity provider contract, with a Firebase Auth
//     implementation in idp/firebase and an in-memory fake in idp/idptest.
//   - backend is the client for the companion API's profile and session
//     cookie endpoints.
//   - session mirrors provider callbacks into a per-browser State of
//     {identity, loading, error, token} and syncs sign-ins to the backend.
//   - guard gates HTTP routes on that state and dispatches users to the
//     landing page of their role.
//   - gateway serves browser sessions over HTTP, and cmd/authsync runs it.
//
// This package holds the global configuration shared by all of them.
package authsync
