package model

// Message holds the fields of one mailbox entry that end up in the digest.
// Any field may be empty when the source mail lacks it.
type Message struct {
	Sender  string
	Subject string
	Date    string
	Body    string
}

// Key describes one public key of the keyring.
type Key struct {
	KeyID string
	UIDs  []string
}
