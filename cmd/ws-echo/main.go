package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"

	"websocket-proto/internal/domain"
	"websocket-proto/internal/infrastructure"
	"websocket-proto/pkg/protocol"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	maxPayload := flag.Uint64("max-payload", protocol.MaxPayloadSize, "largest accepted payload in bytes")
	flag.Parse()

	upgrader := infrastructure.NewUpgrader(*maxPayload)

	http.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		t, err := upgrader.Upgrade(w, r)
		if err != nil {
			log.Printf("Upgrade error from %s: %v", r.RemoteAddr, err)
			return
		}
		conn := t.Connection()
		log.Printf("Client %s connected from %s", conn.ID, conn.RemoteAddr)
		echo(r.Context(), t)
	})

	log.Printf("WebSocket echo server listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, nil))
}

// echo writes every data message back until the peer closes or misbehaves
func echo(ctx context.Context, t *infrastructure.Transport) {
	conn := t.Connection()
	for {
		msg, err := t.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrConnectionClosed) {
				log.Printf("Client %s disconnected", conn.ID)
			} else {
				log.Printf("Client %s read error: %v", conn.ID, err)
			}
			return
		}

		switch msg.Type {
		case domain.MessageTypeText, domain.MessageTypeBinary:
			if err := t.Send(msg); err != nil {
				log.Printf("Client %s send error: %v", conn.ID, err)
				return
			}
			if err := t.Flush(); err != nil {
				log.Printf("Client %s write error: %v", conn.ID, err)
				return
			}
		case domain.MessageTypeClose:
			log.Printf("Client %s closed: %v", conn.ID, msg.Reason)
			return
		}
	}
}
