package vault

// Event topics published by the Vault module.
const (
	TopicVaultStatusChanged = "vault.status.changed"
	TopicCredentialCreated  = "vault.credential.created" //nolint:gosec // G101: event topic name, not a credential
	TopicCredentialUpdated  = "vault.credential.updated" //nolint:gosec // G101: event topic name, not a credential
	TopicCredentialDeleted  = "vault.credential.deleted" //nolint:gosec // G101: event topic name, not a credential
)

// CredentialEvent is the payload for the credential topics. It never
// carries the secret.
type CredentialEvent struct {
	Address  string `json:"address"`
	Username string `json:"username,omitempty"`
}

// StatusEvent is the payload for TopicVaultStatusChanged.
type StatusEvent struct {
	State State `json:"state"`
}
