// Package custodyhandler exposes the key custody service over HTTP and
// provides a Go client for it.
package custodyhandler
