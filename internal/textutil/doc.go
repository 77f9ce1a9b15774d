// Package textutil sanitizes user-supplied file names so they can be used
// as download names and workspace extensions.
package textutil
