package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"oceandepths/internal/client"
	"oceandepths/internal/protocol"
	"oceandepths/internal/sim/catalogs"
)

// A headless city client: bootstraps against the server, runs the local
// optimistic simulation, and listens for push events on the ws feed.
func main() {
	var (
		server    = flag.String("server", "http://localhost:8080", "server base url")
		player    = flag.String("player", "dev_player", "player id")
		configDir = flag.String("configs", "./configs", "config directory")
		build     = flag.String("build", "", "base type to build as 'type@x,y' (optional)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[client] ", log.LstdFlags|log.Lmicroseconds)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	go func() {
		<-stop
		cancel()
	}()

	auth := client.NewHTTPAuthority(*server, *player)
	sim := client.NewSimulator(auth, cats, logger)
	if err := sim.Bootstrap(ctx); err != nil {
		logger.Fatalf("bootstrap: %v", err)
	}
	logger.Printf("city=%s resources=%v", sim.CityID(), sim.Resources().Ints())

	go watchPushes(ctx, *server, *player, sim.CityID(), logger)

	if *build != "" {
		baseType, pos, err := parseBuild(*build)
		if err != nil {
			logger.Fatalf("parse -build: %v", err)
		}
		resp, err := sim.StartBuild(ctx, baseType, pos)
		if err != nil {
			logger.Fatalf("start build: %v", err)
		}
		logger.Printf("building %s at (%d,%d), done at %s", baseType, pos.X, pos.Y, resp.EndsAt.Format(time.RFC3339))
	}

	if err := sim.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatalf("simulator: %v", err)
	}
}

func parseBuild(s string) (string, protocol.Position, error) {
	var pos protocol.Position
	typ, coords, ok := strings.Cut(s, "@")
	if !ok {
		return "", pos, errFormat
	}
	xs, ys, ok := strings.Cut(coords, ",")
	if !ok {
		return "", pos, errFormat
	}
	var err error
	if pos.X, err = strconv.Atoi(strings.TrimSpace(xs)); err != nil {
		return "", pos, errFormat
	}
	if pos.Y, err = strconv.Atoi(strings.TrimSpace(ys)); err != nil {
		return "", pos, errFormat
	}
	return typ, pos, nil
}

var errFormat = protocol.Errf(protocol.ErrBadRequest, "expected 'type@x,y'")

// watchPushes subscribes to the push feed and logs the freshness hints. The
// feed is advisory; a failed connection only costs latency until the next
// periodic sync.
func watchPushes(ctx context.Context, server, player, cityID string, logger *log.Logger) {
	wsURL := strings.Replace(server, "http", "ws", 1) + "/v1/ws"
	for ctx.Err() == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			logger.Printf("ws dial: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		hello := protocol.HelloMsg{
			Type:            protocol.TypeHello,
			ProtocolVersion: protocol.Version,
			PlayerID:        player,
			CityID:          cityID,
		}
		if err := conn.WriteJSON(hello); err != nil {
			conn.Close()
			continue
		}

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeWelcome:
				var w protocol.WelcomeMsg
				if err := json.Unmarshal(msg, &w); err != nil {
					continue
				}
				logger.Printf("WELCOME city=%s server_time=%s", w.CityID, w.ServerTime.Format(time.RFC3339))
			case protocol.TypeBaseBuilt, protocol.TypeResearchCompleted, protocol.TypeConstructionUpdated, protocol.TypeResourceTick:
				var p protocol.PushMsg
				if err := json.Unmarshal(msg, &p); err != nil {
					continue
				}
				logger.Printf("push %s action=%s", p.Type, p.ActionID)
			}
		}
		conn.Close()
	}
}
