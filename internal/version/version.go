package version

// Version is the current version of warpcall.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/Rupam798/VideoConferencing/internal/version.Version=v1.0.0'"
var Version = "dev"
