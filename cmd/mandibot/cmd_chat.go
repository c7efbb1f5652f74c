// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const greeting = "Namaste! 🌾 I’m MandiBot. Ask me mandi prices like ‘Rate of onion in Ahmednagar today’, ‘What about wheat in Pune yesterday?’, or ‘Show me crops available in Nashik’."

func runChatCommand(cmd *cobra.Command, args []string) {
	if len(args) > 0 {
		// Common misuse: a positional session id instead of --resume.
		if args[0] == "resume" && len(args) >= 2 {
			fmt.Printf("Hint: Did you mean '--resume %s'? Use 'mandibot chat --resume <session-id>'\n", args[1])
			os.Exit(1)
		}
		fmt.Printf("Warning: Unexpected arguments ignored: %v\n", args)
		fmt.Println("Use 'mandibot chat --help' to see available flags.")
	}

	sessionID, _ := cmd.Flags().GetString("resume")
	if sessionID != "" {
		fmt.Printf("Resuming session %s\n", sessionID)
	}

	fmt.Println(greeting)
	fmt.Println("Type 'exit' to quit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			continue
		}
		if question == "exit" || question == "quit" || question == "q" {
			fmt.Println("Goodbye.")
			break
		}

		done := make(chan bool)
		go showSpinner("Fetching prices", done)

		resp, err := sendAskRequest(sessionID, question)
		done <- true
		fmt.Print("\r                                                \r")

		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		sessionID = resp.SessionID

		fmt.Printf("\n%s\n\n", resp.Answer)
	}

	if sessionID != "" {
		fmt.Printf("[session: %s]\n", sessionID)
	}
}

// showSpinner displays a small progress animation until done receives.
func showSpinner(msg string, done chan bool) {
	chars := []string{"▖", "▘", "▝", "▗"}
	i := 0

	fmt.Print("\033[?25l")
	defer fmt.Print("\033[?25h")

	for {
		select {
		case <-done:
			return
		default:
			fmt.Printf("\r%s  %s... \033[K", chars[i%len(chars)], msg)
			i++
			time.Sleep(100 * time.Millisecond)
		}
	}
}
