package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"
	"github.com/zeromicro/go-zero/rest"

	"gridpilot/internal/cli"
	"gridpilot/internal/config"
	"gridpilot/internal/handler"
	"gridpilot/internal/svc"
)

var configFile = flag.String("f", "etc/gridpilot.yaml", "the config file")

func main() {
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	cli.LogConfigSummary(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svcCtx := svc.MustNewServiceContext(*cfg)
	defer svcCtx.Close()
	logx.Must(svcCtx.Restore(ctx))

	server := rest.MustNewServer(cfg.RestConf)
	defer server.Stop()
	handler.RegisterHandlers(server, svcCtx)

	threading.GoSafe(func() {
		if err := svcCtx.Run(ctx); err != nil && ctx.Err() == nil {
			logx.Errorf("bot stopped: %v", err)
		}
	})
	threading.GoSafe(func() {
		<-ctx.Done()
		server.Stop()
	})

	fmt.Printf("Starting server at %s:%d...\n", cfg.Host, cfg.Port)
	server.Start()
}
