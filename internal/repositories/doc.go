// Package repositories implements SQLite persistence.
//
// [KVRepository] is the durable backend of the session store: a single session_kv table
// holding the PKCE verifier and the credential keys laid out by the store package.
// Schema changes live in the embedded migrations of the shared package.
package repositories
