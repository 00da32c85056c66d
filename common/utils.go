package common

// Version is set at build time with -ldflags "-X github.com/ruteri/sealed-keymaster/common.Version=..."
var Version = "dev"
