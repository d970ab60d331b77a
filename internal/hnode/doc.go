// Package hnode is the device framework a daemon plugs its endpoints into.
//
// A Device carries the identity of one daemon instance (device type and
// instance name), the endpoint sets it serves, and the "device" section of
// its persisted configuration. It implements the section hooks used by the
// configuration lifecycle: InitConfigSections writes the defaults on first
// run, ValidateConfigSections checks a candidate configuration, and
// ReadConfigSections accepts a loaded or saved one and publishes the
// resulting Info.
package hnode
