package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"GazeTrialRunner/internal/clock"
	"GazeTrialRunner/internal/config"
	"GazeTrialRunner/internal/devlink"
	"GazeTrialRunner/internal/display"
	"GazeTrialRunner/internal/experiment"
	"GazeTrialRunner/internal/httpserver"
	"GazeTrialRunner/internal/logger"
	"GazeTrialRunner/internal/results"
	"GazeTrialRunner/internal/testdevice"
	"GazeTrialRunner/internal/trial"
	"GazeTrialRunner/pkg/replay"
)

func main() {
	var (
		mode       = flag.String("mode", "run", "运行模式: run, tracker, verify")
		configPath = flag.String("config", "", "配置文件路径（YAML，可选）")
		addr       = flag.String("addr", "127.0.0.1:18200", "tracker模式的监听地址")
		logPath    = flag.String("log", "", "verify模式的会话日志路径")
		trials     = flag.Int("trials", 2, "run模式的试次数量")
	)
	flag.Parse()

	logger.InitLogger()
	if err := godotenv.Load(); err == nil {
		log.Printf("loaded .env overrides")
	}

	switch *mode {
	case "run":
		runExperiment(*configPath, *trials)
	case "tracker":
		runTracker(*addr)
	case "verify":
		runVerify(*logPath)
	default:
		fmt.Printf("未知模式: %s\n", *mode)
		flag.Usage()
		os.Exit(1)
	}
}

// runExperiment 对内置模拟追踪主机运行一次完整实验
func runExperiment(configPath string, trialCount int) {
	fmt.Println("🎯 GazeTrialRunner - 注视追踪试次会话控制器")
	fmt.Println("==========================================")

	opts := []config.Option{}
	if configPath != "" {
		opts = append(opts, config.WithConfigPath(configPath), config.WithWatch(true))
	}
	manager, err := config.NewManager(opts...)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	cfg := manager.Get()

	// 启动内置模拟追踪主机
	tracker := testdevice.New(testdevice.DefaultConfig("127.0.0.1:18200"))
	if err := tracker.Start(); err != nil {
		log.Fatalf("启动模拟追踪主机失败: %v", err)
	}
	defer tracker.Shutdown(context.Background())
	cfg.Tracker.URL = tracker.URL()
	fmt.Printf("✅ 模拟追踪主机已启动: %s\n", tracker.URL())

	logger.InitGlobal()

	clk := clock.NewReal()
	backend := display.NewHeadlessBackend(clk, cfg.Display.Surfaces, cfg.Display.Width, cfg.Display.Height)
	live := devlink.NewWSLink(devlink.DefaultWSConfig(cfg.Tracker.URL))
	input := trial.NewTimedInput(clk, 600*time.Millisecond, cfg.Session.AcceptButton)

	specs := make([]trial.Spec, 0, trialCount)
	for i := 0; i < trialCount; i++ {
		name := fmt.Sprintf("stim%02d", i+1)
		specs = append(specs, trial.Spec{
			Left:  display.NewSolidImage(name+"_l.png", 320, 240, display.Colour{R: 200, G: 40, B: 40}),
			Right: display.NewSolidImage(name+"_r.png", 320, 240, display.Colour{R: 40, G: 40, B: 200}),
		})
	}

	runner := experiment.NewRunner(cfg, backend, live, input, clk, specs)

	if cfg.Results.Enabled {
		store, err := results.Connect(context.Background(), cfg.Results)
		if err != nil {
			log.Printf("结果库连接失败（继续，不落库）: %v", err)
		} else {
			defer store.Close()
			if err := store.EnsureSchema(context.Background()); err != nil {
				log.Printf("结果库建表失败: %v", err)
			} else {
				runner.SetResultsStore(store)
			}
		}
	}

	if cfg.Monitor.Enabled {
		monitor := httpserver.NewMonitor(cfg.Monitor.Addr, runner, logger.Global)
		monitor.Start()
		defer monitor.Shutdown(context.Background())
		fmt.Printf("✅ 监视服务已启动: %s\n", cfg.Monitor.Addr)
	}

	report := runner.Run(context.Background())

	fmt.Println()
	fmt.Printf("📋 运行报告 %s\n", report.RunID)
	fmt.Printf("   会话终态: %s (dummy=%v)\n", report.SessionState, report.Dummy)
	for _, t := range report.Trials {
		fmt.Printf("   试次 %d: %s / %s, rt=%dms, result=%d\n",
			t.Index, t.LeftName, t.RightName, t.ReactionMS, t.Result)
	}
	for _, w := range report.Warnings {
		fmt.Printf("   ⚠️  %s\n", w)
	}
	if report.Err != nil {
		fmt.Printf("   ❌ %v\n", report.Err)
		os.Exit(1)
	}
	if report.TransferredPath != "" {
		fmt.Printf("   📥 日志已取回: %s\n", report.TransferredPath)
		verifyTransferred(report.TransferredPath)
	}
}

// verifyTransferred 对取回的日志立即做一次顺序不变量校验
func verifyTransferred(path string) {
	entries, err := replay.ParseLogFile(path)
	if err != nil {
		log.Printf("解析取回日志失败: %v", err)
		return
	}
	result := replay.Verify(entries)
	if result.Passed() {
		fmt.Printf("   ✅ 日志校验通过: %d 条消息, %d 个试次\n", result.Entries, result.Trials)
	} else {
		for _, issue := range result.Issues {
			fmt.Printf("   ❌ 日志校验: %s\n", issue.Reason)
		}
	}
}

// runTracker 以独立进程运行模拟追踪主机
func runTracker(addr string) {
	tracker := testdevice.New(testdevice.DefaultConfig(addr))
	if err := tracker.Start(); err != nil {
		log.Fatalf("启动模拟追踪主机失败: %v", err)
	}
	fmt.Printf("🚀 模拟追踪主机运行中: %s （Ctrl+C退出）\n", tracker.URL())
	select {}
}

// runVerify 校验一个已取回的会话日志
func runVerify(path string) {
	if path == "" {
		log.Fatal("verify模式需要 -log 参数")
	}
	entries, err := replay.ParseLogFile(path)
	if err != nil {
		log.Fatalf("解析日志失败: %v", err)
	}

	result := replay.Verify(entries)
	fmt.Printf("📄 %s: %d 条消息, %d 个试次\n", path, result.Entries, result.Trials)

	trials, _ := replay.Reconstruct(entries)
	for _, t := range trials {
		fmt.Printf("   试次 %d: onset=%dms rt=%dms result=%d complete=%v\n",
			t.Index, t.OnsetMS, t.ReactionMS, t.Result, t.Complete)
	}

	if !result.Passed() {
		for _, issue := range result.Issues {
			fmt.Printf("❌ %s\n", issue.Reason)
		}
		os.Exit(1)
	}
	fmt.Println("✅ 全部顺序不变量成立")
}
