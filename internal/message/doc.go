// Package message defines the two message families exchanged between nodes
// and their wire encoding.
//
// Membership messages (JOINREQ, JOINREP, PING, PONG) carry the sender's full
// member set. Data messages (CREATE, READ, UPDATE, DELETE and the REPLY /
// READREPLY answers) carry one key-value operation tagged with a transaction
// id. A frame is a two-byte header (version, kind) followed by a protobuf
// wire-format body; frames shorter than the header are rejected.
package message
