// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"

	"github.com/onnwee/nomi-bridge/bridge"
	"github.com/onnwee/nomi-bridge/config"
	"github.com/onnwee/nomi-bridge/db"
	"github.com/onnwee/nomi-bridge/nomiapi"
)

// ChatClient is the slice of the chat API the HTTP surface calls directly
// (listing and room lifecycle). Poll-path calls go through the orchestrator.
type ChatClient interface {
	ListCharacters(ctx context.Context) ([]nomiapi.Character, error)
	ListRooms(ctx context.Context) ([]nomiapi.Room, error)
	GetRoom(ctx context.Context, roomID string) (nomiapi.Room, error)
	CreateRoom(ctx context.Context, name string, memberIDs []string, crossTalk bool) (nomiapi.Room, error)
	SendMessage(ctx context.Context, characterID, roomID, text string) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctx   context.Context
	cfg   *config.Config
	db    *sql.DB
	store *db.Store
	chat  ChatClient
	orch  *bridge.Orchestrator
	rooms *bridge.Membership
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, cfg *config.Config, dbc *sql.DB, store *db.Store, chat ChatClient, orch *bridge.Orchestrator, rooms *bridge.Membership) *Handlers {
	return &Handlers{
		ctx:   ctx,
		cfg:   cfg,
		db:    dbc,
		store: store,
		chat:  chat,
		orch:  orch,
		rooms: rooms,
	}
}
