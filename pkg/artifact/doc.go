// Package artifact stores measurement data files on disk. Writes go
// through a temp file and an atomic rename, so a cancelled or failed
// job never exposes a partial artifact. Each artifact carries a JSON
// metadata sidecar with its job and device ids, size, and BLAKE2b-256
// digest; clients verify the digest after fetching.
package artifact
