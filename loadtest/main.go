package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"
)

const (
	BaseURL   = "http://localhost:8080"
	PairCount = 50 // Start small. Each pair is two users messaging each other.
	MsgCount  = 20 // Messages per user
)

type AuthResponse struct {
	Token    string `json:"access_token"`
	ID       int    `json:"id"`
	Username string `json:"username"`
}

func main() {
	log.Printf("starting load test: %d users, %d messages each", PairCount*2, MsgCount)
	var wg sync.WaitGroup

	// Pairs: user 0 talks to user 1, user 2 talks to user 3...
	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}

	wg.Wait()
	log.Println("load test complete")
}

func runPair(pairID int) {
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)
	pass := "password123"

	tokenA, idA := authenticate(userA, pass)
	tokenB, idB := authenticate(userB, pass)
	if tokenA == "" || tokenB == "" {
		return // Failed auth
	}

	// Without mutual compatibility records every send bounces off the gate,
	// so the steady state below also exercises the refusal path. Seed the
	// records out of band (the analysis feature owns that table) to load the
	// full send path instead.
	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go spam(&wsWg, tokenA, idB, userA)
	go spam(&wsWg, tokenB, idA, userB)
	wsWg.Wait()

	// Each side drains its inbox and badge once, like a real client landing
	// on the app after the burst.
	fetch(tokenA, "/api/inbox")
	fetch(tokenA, "/api/badge")
	fetch(tokenB, "/api/inbox")
	fetch(tokenB, "/api/badge")
}

func postJSON(endpoint string, payload interface{}) (*http.Response, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return http.Post(BaseURL+endpoint, "application/json", bytes.NewBuffer(jsonBody))
}

// authenticate registers (ignores error if exists) and logs in
func authenticate(username, password string) (string, int) {
	postJSON("/register", map[string]string{
		"username": username, "password": password, "display_name": username,
	})

	resp, err := postJSON("/login", map[string]string{"username": username, "password": password})
	if err != nil {
		log.Printf("login failed [%s]: %v", username, err)
		return "", 0
	}
	defer resp.Body.Close()

	var data AuthResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.Token, data.ID
}

func spam(wg *sync.WaitGroup, token string, peerID int, user string) {
	defer wg.Done()

	for i := 0; i < MsgCount; i++ {
		body := map[string]interface{}{
			"peer_id": peerID,
			"body":    fmt.Sprintf("load test message %d from %s", i, user),
		}
		jsonBody, _ := json.Marshal(body)
		req, _ := http.NewRequest("POST", BaseURL+"/api/messages", bytes.NewBuffer(jsonBody))
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Printf("send fail [%s]: %v", user, err)
			break
		}
		resp.Body.Close()

		// Small sleep to prevent instant localhost bottleneck
		time.Sleep(10 * time.Millisecond)
	}
}

func fetch(token, endpoint string) {
	req, _ := http.NewRequest("GET", BaseURL+endpoint, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}
