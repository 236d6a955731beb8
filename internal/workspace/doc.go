// Package workspace manages scratch directories for analysis jobs. Every
// job gets an isolated directory tree holding the fetched archive, the
// extracted source and any spilled chunk files, released as a unit when the
// job finishes.
package workspace
