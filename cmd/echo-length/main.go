// Command echo-length runs a TCP echo server using reactor's LengthCodec
// framing: each length-prefixed frame sent by a client is echoed back
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
		host       string
		port       uint16
		workers    int
		maxMsgSize int
	)

	cmd := &cobra.Command{
		Use:   "echo-length",
		Short: "Length-prefixed TCP echo server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(host, port, workers, maxMsgSize)
		},
	}
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "address to bind")
	cmd.Flags().Uint16Var(&port, "port", 9002, "port to bind")
	cmd.Flags().IntVar(&workers, "workers", 4, "number of worker loops")
	cmd.Flags().IntVar(&maxMsgSize, "max-msg-size", codec.DefaultMaxFrameLength, "maximum frame payload size in bytes")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(host string, port uint16, workers int, maxMsgSize int) error {
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

	srv, err := tcp.Listen(acceptLoop, workerGroup, host, port, tcp.WithCodec(codec.NewLengthCodec(maxMsgSize)))
	if err != nil {
		return err
	}
	srv.OnConnect(func(conn *tcp.Connection) {
		conn.OnMessage(codec.NewLengthCodec(maxMsgSize), func(c *tcp.Connection, frame []byte) {
			_ = c.SendMessage(append([]byte{}, frame...))
		})
	})

	fmt.Printf("echo-length listening on %s\n", srv.Addr())
	<-ctx.Done()

	_ = srv.Close()
	_ = acceptLoop.Shutdown(context.Background())
	_ = workerGroup.Shutdown(context.Background())
	return nil
}
