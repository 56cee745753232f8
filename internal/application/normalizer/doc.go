// Package normalizer turns inbound trigger messages into validated
// requests. Structured messages are preferred; a raw JSON text fallback is
// parsed when the structured form is empty.
package normalizer
