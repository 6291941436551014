// Package handlers contains the HTTP handlers of the PolyDocs server:
// the GitHub webhook receiver, the health probe and the build status lookup.
//
// Errors are classified with the foundation/errors package and written by its
// HTTP adapter, so every rejection carries a JSON body and a status derived
// from the error category.
package handlers
