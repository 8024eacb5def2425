package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		printError(os.Stderr, err)
		os.Exit(1)
	}
}

// printError writes err and, for coded errors, the explanation and fixes
func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	te := asTraceError(err)
	if te == nil {
		return
	}
	if help := te.Explain(); help != "" {
		fmt.Fprintf(w, "\n%s\n", help)
	}
	for _, fix := range te.SuggestedFixes {
		switch {
		case fix.Command != "":
			fmt.Fprintf(w, "  - %s: %s\n", fix.Description, fix.Command)
		case fix.Tool != "":
			fmt.Fprintf(w, "  - %s (%s)\n", fix.Description, fix.Tool)
		default:
			fmt.Fprintf(w, "  - %s\n", fix.Description)
		}
	}
}
