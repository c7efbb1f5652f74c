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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// askRequest is the payload for POST /v1/mandi/ask.
type askRequest struct {
	SessionID       string `json:"session_id,omitempty"`
	Query           string `json:"query"`
	SidebarLocation string `json:"sidebar_location,omitempty"`
	SidebarDate     string `json:"sidebar_date,omitempty"`
}

// askResponse is the response from POST /v1/mandi/ask.
type askResponse struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
}

// errorResponse is the server's JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func runAskCommand(_ *cobra.Command, args []string) {
	question := strings.Join(args, " ")
	fmt.Printf("Asking: %s\n", question)
	fmt.Println("---")

	resp, err := sendAskRequest("", question)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("\n%s\n", resp.Answer)
}

// sendAskRequest posts one turn to the server.
func sendAskRequest(sessionID, question string) (askResponse, error) {
	var out askResponse

	payload := askRequest{
		SessionID:       sessionID,
		Query:           question,
		SidebarLocation: locationFlag,
	}
	if dateFlag != "" {
		parsed, err := time.Parse("2006-01-02", dateFlag)
		if err != nil {
			return out, fmt.Errorf("--date: %q is not YYYY-MM-DD", dateFlag)
		}
		payload.SidebarDate = parsed.Format(time.RFC3339)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("failed to create request body: %w", err)
	}

	askURL := fmt.Sprintf("%s/v1/mandi/ask", getServerBaseURL())
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Post(askURL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return out, fmt.Errorf("server unavailable at %s: %w", askURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("failed to read server response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var envelope errorResponse
		if json.Unmarshal(respBody, &envelope) == nil && envelope.Error != "" {
			return out, fmt.Errorf("server error (%s): %s", envelope.Code, envelope.Error)
		}
		return out, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, &out); err != nil {
		return out, fmt.Errorf("failed to parse server response: %w", err)
	}
	return out, nil
}
