package version

// Version is the service version, overridable at build time via
// -ldflags "-X warrn-service/version.Version=...".
var Version = "dev"
