/*
Package config defines Helmsman's typed options struct and its layered
loading: compiled-in defaults, optionally overridden by a YAML file, then
overridden again by environment variables — the same override order
cuemby-warren's cmd/warren establishes between flags and env, generalized
here to a single Options struct since Helmsman is a library-first module
(§1: the CLI wrapper is external, config file loading lives here so any
embedder gets it for free).

Only REDIS_HOST, REDIS_PORT, and REDIS_PASSWORD are read from the
environment, per spec §6; every other tunable is set via Options or the
YAML file.
*/
package config
