package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/spotterhq/spotter/internal/browser"
)

func main() {
	fmt.Println("=== Spotter ===")

	_ = godotenv.Load()

	// Parse args
	action := "tag"
	url := ""
	if len(os.Args) >= 2 {
		action = os.Args[1]
	}
	if len(os.Args) >= 3 {
		url = os.Args[2]
	}

	fmt.Println("\n1. Loading config...")
	cfg, err := browser.LoadConfig(os.Getenv("SPOTTER_CONFIG"))
	if err != nil {
		fmt.Printf("   ERROR: %v\n", err)
		return
	}
	if v := os.Getenv("SPOTTER_CDP_URL"); v != "" {
		cfg.CDPUrl = v
	}
	if v := os.Getenv("SPOTTER_HEADLESS"); v != "" {
		cfg.Headless, _ = strconv.ParseBool(v)
	}
	resolved := browser.ResolveConfig(cfg)
	fmt.Printf("   CDPUrl: %s headless=%t\n", resolved.CDPUrl, resolved.Headless)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	fmt.Println("\n2. Connecting...")
	ctrl, err := browser.Connect(ctx, resolved)
	if err != nil {
		fmt.Printf("   ERROR: %v\n", err)
		return
	}
	defer ctrl.Close()

	// Persist annotated screenshots next to the working dir. File I/O
	// stays out of the core; this observer is the debug boundary.
	ctrl.SetPassObserver(func(rec browser.PassRecord) {
		name := fmt.Sprintf("spotter-pass-%03d.png", rec.Pass)
		if err := os.WriteFile(name, rec.Image, 0644); err != nil {
			fmt.Printf("   WARN: write %s: %v\n", name, err)
			return
		}
		fmt.Printf("   Wrote %s (%d elements)\n", name, len(rec.Elements))
	})

	fmt.Println("\n3. Creating context and page...")
	ctxID, err := ctrl.CreateContext(ctx)
	if err != nil {
		fmt.Printf("   ERROR: %v\n", err)
		return
	}
	pageID, err := ctrl.CreatePage(ctx, ctxID)
	if err != nil {
		fmt.Printf("   ERROR: %v\n", err)
		return
	}
	fmt.Printf("   Context: %s Page: %s\n", ctxID, pageID)

	if url != "" {
		fmt.Printf("\n4. Navigating to %s...\n", url)
		if err := ctrl.Navigate(ctx, url); err != nil {
			fmt.Printf("   ERROR: %v\n", err)
			return
		}
	}

	switch action {
	case "tag":
		fmt.Println("\n5. Running tagging pass...")
		result, err := ctrl.Tag(ctx)
		if err != nil {
			fmt.Printf("   ERROR: %v\n", err)
			return
		}
		fmt.Printf("\n%s\n", result.Describe())

	case "navigate":
		if url == "" {
			fmt.Println("Usage: spotter navigate <url>")
			return
		}
		info, err := ctrl.PageInfo(ctx)
		if err != nil {
			fmt.Printf("   ERROR: %v\n", err)
			return
		}
		fmt.Printf("   Now at: %s (%s)\n", info.URL, info.Title)

	default:
		fmt.Printf("Unknown action: %s (valid: tag, navigate)\n", action)
	}

	fmt.Println("\n=== Done ===")
}
