package core

// SessionID identifies one connection from one device. The subscription
// table stores these, never the session itself.
type SessionID string
