package handlers

import "github.com/coder/websocket"

// Application close codes in the private range, used where the standard
// status codes are too vague for the client to act on.
const (
	CloseBadSubprotocol websocket.StatusCode = 3000
	CloseInvalidToken   websocket.StatusCode = 3001
	CloseUnknownLobby   websocket.StatusCode = 3003
)
