package ir

// Version constants for stored data and the engine.
const (
	// SchemaVersion is the version of the stored write-request format.
	SchemaVersion = "1"

	// EngineVersion is the plenum engine version.
	EngineVersion = "0.1.0"
)
