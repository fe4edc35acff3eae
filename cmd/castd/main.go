package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"castd/internal/castd"
)

func main() {
	configPath := flag.String("config", castd.DefaultConfigPath, "path to the YAML config file")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config path]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// 설정 로드
	config, err := castd.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	// 설정을 기반으로 로거 초기화
	castd.InitLogger(config)

	app, err := castd.NewApp(config)
	if err != nil {
		slog.Error("Failed to create application", "err", err)
		os.Exit(1)
	}

	if err := app.Run(); err != nil {
		slog.Error("Application failed", "err", err)
		os.Exit(1)
	}
}
