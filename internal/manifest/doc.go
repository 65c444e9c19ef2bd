// Package manifest records what a bundle contains.
//
// A manifest lists every file of the bundle with its base64 SHA-512 checksum,
// along with the generator version, build time and the builder's identity.
// It is stored as YAML at the bundle root and is shipped inside the archive,
// so a distribution can be verified after extraction.
package manifest
