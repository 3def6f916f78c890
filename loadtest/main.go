package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	BaseURL   = "http://localhost:8080"
	WSURL     = "ws://localhost:8080/ws"
	PairCount = 50 // conversations; each pair is two users
	MsgCount  = 20 // messages per user
)

type conversationResponse struct {
	ID string `json:"id"`
}

type sendResponse struct {
	Success  bool            `json:"success"`
	Envelope json.RawMessage `json:"envelope"`
}

func main() {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must match the server's secret")
	}

	log.Printf("starting load: %d users, %d messages each", PairCount*2, MsgCount)
	var wg sync.WaitGroup

	// Pairs: user 1 talks to user 2, user 3 to user 4...
	for i := 0; i < PairCount; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(secret, pairID)
		}(i)
	}

	wg.Wait()
	log.Println("load test complete")
}

func runPair(secret string, pairID int) {
	userA := int64(pairID*2 + 1)
	userB := int64(pairID*2 + 2)

	tokenA := mintToken(secret, userA, "loadtest-a")
	tokenB := mintToken(secret, userB, "loadtest-b")

	convID := establishConversation(tokenA, userB)
	if convID == "" {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)

	go spamChat(&wsWg, tokenA, convID, userA)
	go spamChat(&wsWg, tokenB, convID, userB)

	wsWg.Wait()
}

// mintToken signs a short-lived HS256 token the way the server's issuer
// would, so the tool needs no login endpoint.
func mintToken(secret string, userID int64, deviceID string) string {
	claims := jwt.MapClaims{
		"uid": userID,
		"did": deviceID,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		log.Fatalf("sign token: %v", err)
	}
	return signed
}

func establishConversation(token string, peerID int64) string {
	body, _ := json.Marshal(map[string]int64{"peer_id": peerID})
	req, _ := http.NewRequest("POST", BaseURL+"/api/conversations", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("establish failed: %v", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		log.Printf("establish failed: status %d", resp.StatusCode)
		return ""
	}

	var data conversationResponse
	json.NewDecoder(resp.Body).Decode(&data)
	return data.ID
}

// spamChat holds a live subscription open while sending over HTTP, which
// is what a real client does: deliveries arrive on the socket, sends go
// through the idempotent append endpoint.
func spamChat(wg *sync.WaitGroup, token, convID string, userID int64) {
	defer wg.Done()

	url := fmt.Sprintf("%s?conversation_id=%s&token=%s", WSURL, convID, token)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Printf("ws connect failed [user %d]: %v", userID, err)
		return
	}
	defer conn.Close()

	// Drain deliveries so the server never reaps us as a dead sink.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < MsgCount; i++ {
		if err := sendMessage(token, convID, userID, i); err != nil {
			log.Printf("send failed [user %d]: %v", userID, err)
			break
		}
		// Small sleep to keep localhost from serializing everything.
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("user %d finished sending %d msgs", userID, MsgCount)
}

func sendMessage(token, convID string, userID int64, seq int) error {
	body, _ := json.Marshal(map[string]string{
		"conversation_id": convID,
		"message_id":      uuid.NewString(),
		"cipher_text":     fmt.Sprintf("loadtest-opaque-%d-%d", userID, seq),
	})
	req, _ := http.NewRequest("POST", BaseURL+"/api/messages", bytes.NewBuffer(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		// Back off for the window the server advertises.
		if retry, err := time.ParseDuration(resp.Header.Get("Retry-After") + "s"); err == nil {
			time.Sleep(retry)
		}
		return nil
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	var data sendResponse
	json.NewDecoder(resp.Body).Decode(&data)
	if !data.Success {
		return fmt.Errorf("server rejected send")
	}
	return nil
}
