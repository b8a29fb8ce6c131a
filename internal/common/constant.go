// Package common contains shared constants and errors used across adpipe
// components.
package common

// AccessTokenParam is the Graph API parameter carrying the access token.
// Values stored under this key are redacted before logging.
const AccessTokenParam = "access_token"

// AppSecretProofParam carries the HMAC of the access token keyed by the app secret.
const AppSecretProofParam = "appsecret_proof"
