// Package repository is the MongoDB persistence layer for chats and
// messages. Repositories return ErrNotFound for absent documents; callers map
// it to their own error taxonomy.
package repository

import "errors"

var ErrNotFound = errors.New("repository: not found")

// Collection names. The users collection is written by the account service;
// this module only reads it through the sender lookup.
const (
	CollMessages = "messages"
	CollChats    = "chats"
	CollUsers    = "users"
)
