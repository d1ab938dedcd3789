// Command echo-hsha runs a half-sync/half-async TCP echo server: framing
// happens on the event loop, the handler (an uppercase transform, to make
// the worker-pool hop observable) runs on a worker pool.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/halfsync/reactor"
	"github.com/halfsync/reactor/codec"
	"github.com/halfsync/reactor/hsha"
	"github.com/halfsync/reactor/tcp"
)

func main() {
	var (
		host    string
		port    uint16
		workers int
		poolN   int
	)

	cmd := &cobra.Command{
		Use:   "echo-hsha",
		Short: "Half-sync/half-async TCP echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(host, port, workers, poolN)
		},
	}
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "address to bind")
	cmd.Flags().Uint16Var(&port, "port", 9003, "port to bind")
	cmd.Flags().IntVar(&workers, "workers", 4, "number of I/O loops")
	cmd.Flags().IntVar(&poolN, "pool-size", 8, "number of handler worker goroutines")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(host string, port uint16, workers int, poolN int) error {
	acceptLoop, err := reactor.New()
	if err != nil {
		return err
	}
	ioWorkers, err := reactor.NewLoopGroup(workers)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() { _ = acceptLoop.Run(ctx) }()
	go func() { _ = ioWorkers.Run(ctx) }()

	srv, err := hsha.Listen(acceptLoop, ioWorkers, host, port, codec.NewLineCodec(), poolN, func(conn *tcp.Connection, frame []byte) []byte {
		return bytes.ToUpper(frame)
	})
	if err != nil {
		return err
	}

	fmt.Printf("echo-hsha listening on %s\n", srv.Addr())
	<-ctx.Done()

	_ = srv.Close(5 * time.Second)
	_ = acceptLoop.Shutdown(context.Background())
	_ = ioWorkers.Shutdown(context.Background())
	return nil
}
