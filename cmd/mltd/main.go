// Command mltd wires up one Communicator (spec §4.8): a thin example
// binary, not a CLI-argument-parsing framework (spec §1 Non-goals). Flags
// cover only process placement (ports, peer address), mirroring main.go's
// flag.* usage in the teacher for the same purpose.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/m-lab/go/flagx"
	"github.com/m-lab/go/rtx"

	"github.com/mlt-io/mlt/comm"
	"github.com/mlt-io/mlt/config"
)

var (
	commID       = flag.Int64("comm-id", 0, "This process's connection id")
	udpHost      = flag.String("udp-host", "0.0.0.0", "Address to bind the priority-queue UDP endpoints on")
	reliableAddr = flag.String("reliable-addr", ":7890", "Address to bind the TCP control listener on")
	promAddr     = flag.String("prom", ":9090", "Prometheus metrics export address and port")
	peerCommID   = flag.Int64("peer-comm-id", 0, "If non-zero, connect to a peer at -peer-udp-host/-peer-udp-port/-peer-reliable-addr on start")
	peerUDPHost  = flag.String("peer-udp-host", "", "Peer's UDP host, for -peer-comm-id")
	peerUDPPort  = flag.Int("peer-udp-port", 0, "Peer's UDP port, for -peer-comm-id")
	peerReliable = flag.String("peer-reliable-addr", "", "Peer's TCP control address, for -peer-comm-id")
)

func init() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func main() {
	flag.Parse()
	flagx.ArgsFromEnv(flag.CommandLine)

	cfg := config.Default()
	cfg.MetricsAddr = *promAddr

	c := comm.New(cfg, int32(*commID))
	rtx.Must(c.Start(*udpHost, *reliableAddr), "mltd: failed to start Communicator %d", *commID)

	if *peerCommID != 0 {
		rtx.Must(
			c.AddConnection(int32(*peerCommID), *peerUDPHost, *peerUDPPort, *peerReliable),
			"mltd: failed to add connection to peer %d", *peerCommID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			select {
			case comp := <-c.Completions():
				log.Printf("mltd: completion msg_id=%d type=%s remote=%d bytes=%d", comp.MsgID, comp.Type, comp.RemoteCommID, comp.Bytes)
			case <-ctx.Done():
				return
			}
		}
	}()

	<-sigCh
	log.Println("mltd: shutting down")
	cancel()
	c.Stop()
}
