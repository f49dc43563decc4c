// Package auth authenticates operators of the admin API.
//
// Operators are declared in configuration with an Argon2id password hash.
// A successful login yields a short-lived HS256 access token; the API
// validates tokens by signature only, so nothing is stored server-side.
package auth
