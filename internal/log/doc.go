// Package log builds the crawler's slog logger.
//
// Market sessions live on cookies, and a leaked cookie is a leaked
// account. The SecureHandler masks attributes whose key names a secret
// (cookie, session, token, password, csrf, auth, key) and string values
// that look like bearer tokens or JWTs, before the record reaches the
// wrapped handler. With WithOnionMasking it also shortens onion addresses
// in messages and values so shared logs do not list crawl targets.
//
// Usage:
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	slog.SetDefault(logger)
package log
