package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"GazeTrialRunner/internal/testdevice"
)

func main() {
	var (
		addr    = flag.String("addr", "127.0.0.1:18200", "监听地址")
		version = flag.Int("version", 4, "握手上报的设备软件版本")
		drift   = flag.Bool("drift-pass", true, "漂移校正是否通过")
	)
	flag.Parse()

	cfg := testdevice.DefaultConfig(*addr)
	cfg.Version = *version
	cfg.DriftPass = *drift

	tracker := testdevice.New(cfg)
	if err := tracker.Start(); err != nil {
		log.Fatalf("启动失败: %v", err)
	}
	fmt.Printf("🚀 模拟追踪主机运行中: %s (version %d)\n", tracker.URL(), *version)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	fmt.Println("\n🧹 正在停止...")
	tracker.Shutdown(context.Background())
}
