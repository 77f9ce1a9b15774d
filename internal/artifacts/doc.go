// Package artifacts stores converted outputs for download.
//
// Each artifact lives in its own directory named by a random token, holding
// the bytes and a small JSON metadata file. Tokens expire after the configured
// TTL; the daemon sweeps expired directories periodically and lookups treat
// expired entries as missing.
package artifacts
