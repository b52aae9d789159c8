// Package config holds the proxy's startup options.
//
// Options come from three layers, lowest precedence first: built-in
// defaults, an optional YAML file named by --config, and flags set
// explicitly on the command line. Options are read once at startup and
// never reloaded.
package config
