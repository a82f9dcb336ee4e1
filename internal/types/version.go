package types

// Version is the canonical daemon and CLI version string. Neither the
// control socket's "info" response nor the CLI reads it at present.
const Version = "0.1.0"
