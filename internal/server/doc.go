// Package server implements the HTTP gateway for LobbyChat.
//
// It exposes registration and login, bearer-protected history and deletion,
// and the websocket endpoint that hands upgraded connections to the hub.
// Routing, request logging and origin checks live in separate files so the
// handlers stay small and testable.
package server
