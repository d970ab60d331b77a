// Package datasink implements the operations of the HNode2 data sink device.
//
// The logging operations sit on a LogBackend. The only backend today is
// Unbacked, which accepts everything and stores nothing: status and
// entries are always empty and every append is assigned a fresh ID.
package datasink
