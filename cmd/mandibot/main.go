// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command mandibot is the CLI client for the MandiBot server.
//
// Usage:
//
//	mandibot ask "tomato price in Pune today"
//	mandibot chat
//	mandibot chat --resume <session-id>
//	mandibot chat --location Nashik --date 2026-08-30
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Flag values shared across subcommands.
var (
	serverURL    string
	locationFlag string
	dateFlag     string
)

var rootCmd = &cobra.Command{
	Use:   "mandibot",
	Short: "Ask MandiBot about mandi commodity prices",
	Long: `MandiBot answers free-text questions about Indian mandi commodity
prices, with conversational context ("what about yesterday?") and
automatic fallback to earlier dates when today's data is missing.`,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question and exit",
	Args:  cobra.MinimumNArgs(1),
	Run:   runAskCommand,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive price chat",
	Run:   runChatCommand,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "MandiBot server base URL (default $MANDIBOT_SERVER_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&locationFlag, "location", "", "Preferred location when the question names none")
	rootCmd.PersistentFlags().StringVar(&dateFlag, "date", "", "Preferred date (YYYY-MM-DD) when the question names none")

	chatCmd.Flags().String("resume", "", "Resume an existing session by ID")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getServerBaseURL resolves the server address from flag, env, or default.
func getServerBaseURL() string {
	if serverURL != "" {
		return serverURL
	}
	if v := os.Getenv("MANDIBOT_SERVER_URL"); v != "" {
		return v
	}
	return "http://localhost:8080"
}
