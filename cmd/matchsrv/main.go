// Command matchsrv runs the signalling relay that peers use to find a
// lobby and exchange the offer/answer/ICE blobs that bring up their
// direct PeerChannels. It does not itself simulate a match — once a
// lobby calls game:start, the peers run lockstep and pathfinding
// locally and talk to each other directly, not through this process.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"rtslockstep/internal/config"
	"rtslockstep/internal/lockstep"
	"rtslockstep/internal/pathfind"
	"rtslockstep/internal/relay"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables only")
	}

	log.Println("================================")
	log.Println(" RTSLOCKSTEP - SIGNALLING RELAY")
	log.Println("================================")

	appConfig := config.Load()
	relayCfg := appConfig.Relay

	log.Printf("config: lockstep input_delay=%d hash_check_interval=%d retention=%d",
		appConfig.Lockstep.InputDelay, appConfig.Lockstep.HashCheckInterval, appConfig.Lockstep.Retention)
	log.Printf("config: relay port=%d rate_limit=%.1f/s burst=%d",
		relayCfg.Port, relayCfg.RequestsPerSecond, relayCfg.Burst)
	log.Printf("config: pathfind node_budget=%d goal_relocation_radius=%d partial_path_floor=%.2f",
		appConfig.Pathfind.NodeBudget, appConfig.Pathfind.GoalRelocationRadius, appConfig.Pathfind.PartialPathFloor)

	hub := relay.NewHub()
	router, limiter := relay.NewServer(hub, relay.ServerConfig{RateLimit: relayCfg})
	defer limiter.Stop()

	addr := ":" + strconv.Itoa(relayCfg.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("relay listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("relay server failed: %v", err)
		}
	}()

	log.Println("relay ready. press Ctrl+C to stop.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("relay shutdown error: %v", err)
	}
	log.Println("goodbye")
}

// newMatchRuntime builds the per-match pieces a connected peer needs once
// its lobby calls game:start: a lockstep.Coordinator tuned by the same
// LockstepConfig every peer in the match loaded, and a pathfind.Worker
// tuned by the shared PathfindConfig. It takes no relay/session
// dependency — wiring a Coordinator's Broadcaster to a session's
// peerchannels, and its EventSink to in-game callbacks, is the caller's
// job, the same separation session.Orchestrator keeps from Negotiator.
func newMatchRuntime(cfg config.AppConfig, localSeat uint8, peerSeats []uint8, broadcast lockstep.Broadcaster, sink lockstep.EventSink, grid *pathfind.Grid) (*lockstep.Coordinator, *pathfind.Worker) {
	coord := lockstep.NewCoordinator(localSeat, peerSeats, cfg.Lockstep, sink, broadcast)
	worker := pathfind.NewWorkerWithConfig(grid, cfg.Pathfind)
	return coord, worker
}
