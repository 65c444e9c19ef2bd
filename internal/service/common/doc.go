// Package common holds helpers shared by several services, such as detecting
// the current system actor (hostname/username) recorded in build manifests.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
