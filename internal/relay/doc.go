// Package relay forwards signaling messages between the websocket peers of a
// call room.
//
// A room exists while it has members. Every text frame a peer sends is
// forwarded unchanged to the other members; the relay itself only emits
// peer-joined, peer-disconnected and room-full error messages. Messages from a
// single sender reach each recipient in the order they were sent.
package relay
