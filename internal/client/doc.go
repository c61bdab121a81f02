// Package client is a small HTTP client for the clawhuddle API.
//
// Responses are unwrapped from their {"data": ...} envelope. Non-2xx
// responses come back as *APIError carrying the server's error code and
// message.
package client
