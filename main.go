package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/petervdpas/goopchat/internal/app"
	"github.com/petervdpas/goopchat/internal/config"
	"github.com/petervdpas/goopchat/internal/util"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	userID   = flag.String("user", "", "User id written into a new config")
	cfgName  = flag.String("config", "goopchat.json", "Config file, relative to the session directory")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("goopchat v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: a session directory is required")
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
	runSession(args[0])
}

func runSession(dirArg string) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid session directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Cannot create session directory: %v", err)
	}

	cfgPath := util.ResolvePath(absDir, *cfgName)
	cfg, created, err := config.Ensure(cfgPath, *userID)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if created {
		fmt.Printf("Created %s\n", cfgPath)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = app.Run(ctx, app.Options{
		Dir:     absDir,
		CfgPath: cfgPath,
		Cfg:     cfg,
		Ready: func(url string) {
			fmt.Printf("Viewer: %s\n", url)
		},
	})
	if err != nil {
		log.Fatalf("Session failed: %v", err)
	}
}

func showUsage() {
	fmt.Println("goopchat - realtime chat session client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  goopchat [-user <id>] <directory>")
	fmt.Println()
	fmt.Println("The directory holds the config file and an optional .env file.")
	fmt.Println("A default config is created on first run; -user sets its user id.")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  GOOPCHAT_TOKEN       bearer token for the API and socket")
	fmt.Println("  GOOPCHAT_API_URL     overrides server.api_url")
	fmt.Println("  GOOPCHAT_SOCKET_URL  overrides server.socket_url")
	fmt.Println("  GOOPCHAT_LOG_LEVEL   overrides log.level")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -user     User id for a newly created config")
	fmt.Println("  -config   Config file name or absolute path (default goopchat.json)")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
}
