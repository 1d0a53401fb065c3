package redis

import "fmt"

const (
	// KeyJournal is the stream holding mirrored message records
	KeyJournal = "relay:journal"
	// KeyBackup holds the latest full snapshot document
	KeyBackup = "relay:backup"
	// KeyStatus holds the latest status snapshot document
	KeyStatus = "relay:status"
	// KeyPrefixEndpoint is the prefix for per-endpoint counter hashes
	KeyPrefixEndpoint = "relay:endpoint:"
)

// JournalKey returns the stream key for mirrored message records
func JournalKey() string {
	return KeyJournal
}

// BackupKey returns the key of the full snapshot document
func BackupKey() string {
	return KeyBackup
}

// StatusKey returns the key of the status snapshot document
func StatusKey() string {
	return KeyStatus
}

// EndpointKey returns the counter hash key for an endpoint
func EndpointKey(id string) string {
	return KeyPrefixEndpoint + id
}

// ExtractEndpointID extracts the endpoint ID from a counter hash key
func ExtractEndpointID(key string) (string, error) {
	if len(key) <= len(KeyPrefixEndpoint) || key[:len(KeyPrefixEndpoint)] != KeyPrefixEndpoint {
		return "", fmt.Errorf("invalid endpoint key: %s", key)
	}
	return key[len(KeyPrefixEndpoint):], nil
}
