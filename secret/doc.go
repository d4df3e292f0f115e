// Package secret resolves credentials referenced from readcache
// configuration, such as the PostgreSQL DSN or the REST API key.
//
// A configuration value is first expanded against the environment
// (see ExpandEnvStrict). If the result contains references of the form
//
//	secretref:<provider>:<ref>
//
// each reference is replaced by the provider's answer. Two providers are
// built in:
//
//	secretref:env:READCACHE_DB_PASSWORD
//	secretref:file:/run/secrets/readcache_dsn
//
// A reference can stand alone or sit inside a larger value:
//
//	postgres://reader:secretref:env:PGPASSWORD@db/poems
package secret
