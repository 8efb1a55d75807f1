// Package chat implements a real-time translating chat relay.
//
// Clients authenticate over a WebSocket, join their rooms, and send messages
// that are translated once and delivered to every connection in the room. The
// relay keeps connection state in memory while storage keeps users, rooms and
// message history.
package chat
