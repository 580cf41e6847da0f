package ir

// Version constants recorded beside every commit.
const (
	// IRVersion is the version of the op and changelog encoding.
	IRVersion = "1"

	// EngineVersion is the livegraph engine version.
	EngineVersion = "0.1.0"
)
