// Package alerts pushes high-risk audit events to webhook endpoints.
//
// Each stored event at or above the configured risk level is posted as JSON to
// every endpoint from a background worker pool, so recording never waits on a
// receiver. Bodies are signed with HMAC-SHA256 when the endpoint has a secret:
//
//	X-Coursetrail-Signature: sha256=<hex(hmac(secret, body))>
//
// Failed deliveries are retried with exponential backoff. Client errors other
// than 408 and 429 are permanent and are not retried.
package alerts
