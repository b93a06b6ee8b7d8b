package parley

// Version is the release of the parley module and CLI.
const Version = "0.4.0"
