// Package common contains shared constants and sentinel errors used across
// the upload server components.
package common

// SessionMetadataKey is the gRPC metadata key that carries the browser session
// id on form-save hook calls.
const SessionMetadataKey = "session_id"

// DefaultSessionCookieName names the cookie holding the browser session id.
const DefaultSessionCookieName = "asyncupload_session"
