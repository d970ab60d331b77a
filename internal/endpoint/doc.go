// Package endpoint describes the REST surface a device exposes.
//
// A Table is parsed from an OpenAPI 3 document and maps each path and HTTP
// verb to an operation ID. Tables are read-only once parsed. The transport
// builds its routes from them and passes the resolved operation ID to a
// dispatcher; the dispatcher never consults the table.
//
// The data sink document is embedded in the binary and served verbatim at
// the device endpoints listing.
package endpoint
