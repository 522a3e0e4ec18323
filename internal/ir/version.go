package ir

// Version constants for persisted formats and the client.
const (
	// SnapshotVersion is the version of the JSON documents written to storage.
	SnapshotVersion = 1

	// ClientVersion is sent to the remote collaborator with every replay.
	ClientVersion = "0.1.0"
)
