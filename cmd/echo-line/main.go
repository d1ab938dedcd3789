// Command echo-line runs a TCP echo server using reactor's LineCodec
// framing: each newline-terminated line sent by a client is echoed back
// unchanged.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/halfsync/reactor"
	"github.com/halfsync/reactor/codec"
	"github.com/halfsync/reactor/tcp"
)

func main() {
	var (
		host    string
		port    uint16
		workers int
	)

	cmd := &cobra.Command{
		Use:   "echo-line",
		Short: "Line-framed TCP echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(host, port, workers)
		},
	}
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "address to bind")
	cmd.Flags().Uint16Var(&port, "port", 9001, "port to bind")
	cmd.Flags().IntVar(&workers, "workers", 4, "number of worker loops")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(host string, port uint16, workers int) error {
	acceptLoop, err := reactor.New()
	if err != nil {
		return err
	}
	workerGroup, err := reactor.NewLoopGroup(workers)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() { _ = acceptLoop.Run(ctx) }()
	go func() { _ = workerGroup.Run(ctx) }()

	srv, err := tcp.Listen(acceptLoop, workerGroup, host, port, tcp.WithCodec(codec.NewLineCodec()))
	if err != nil {
		return err
	}
	srv.OnConnect(func(conn *tcp.Connection) {
		conn.OnMessage(codec.NewLineCodec(), func(c *tcp.Connection, frame []byte) {
			_ = c.SendMessage(append([]byte{}, frame...))
		})
	})

	fmt.Printf("echo-line listening on %s\n", srv.Addr())
	<-ctx.Done()

	_ = srv.Close()
	_ = acceptLoop.Shutdown(context.Background())
	_ = workerGroup.Shutdown(context.Background())
	return nil
}
