// Package storage provides the local key-value storage primitive: a plain
// string map with create/read/update/delete semantics. The replica layer
// stores an encoded Entry (value, timestamp, replica role) as the value.
package storage
