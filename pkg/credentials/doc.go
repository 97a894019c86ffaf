// Package credentials stores provider API keys.
//
// Keys are looked up by provider id. Three stores are provided:
//
//   - FileStore keeps one 0600 file per provider in a directory and can
//     watch it, emitting Events when keys appear, change or disappear.
//   - EnvStore reads keys from environment variables (optionally seeded
//     from .env files), e.g. CONDUIT_KEY_OPENAI for provider "openai".
//   - Chain consults several stores in order and writes to the first.
//
// Key values are never logged.
package credentials
