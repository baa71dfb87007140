package main

import (
	"flag"
	"log"

	"github.com/USAFA-Multi-Domain-Lab/METIS-sub002/internal/server"
)

func main() {
	addr := flag.String("addr", "", "address to listen on (overrides METIS_ADDR)")
	missionDir := flag.String("mission-dir", "", "directory of mission YAML files (overrides METIS_MISSION_DIR)")
	eventRate := flag.Float64("event-rate", 0, "inbound events per second per connection (overrides METIS_EVENT_RATE)")
	eventBurst := flag.Int("event-burst", 0, "inbound event burst per connection (overrides METIS_EVENT_BURST)")
	flag.Parse()

	cfg, err := server.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *missionDir != "" {
		cfg.MissionDir = *missionDir
	}
	if *eventRate > 0 {
		cfg.EventRate = *eventRate
	}
	if *eventBurst > 0 {
		cfg.EventBurst = *eventBurst
	}

	server.StartApp(cfg)
}
