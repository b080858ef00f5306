package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/bookstore/internal/config"
)

const (
	itemID        = "stress-test-book"
	initialStock  = 20
	totalRequests = 50
)

type client struct {
	base  string
	token string
	http  *http.Client
}

func main() {
	ctx := context.Background()

	// Gateway address and an ADMIN account come from the gateway's own config
	cfg, err := config.Load(".", config.ServiceGateway)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	user, password, ok := adminAccount(cfg.AuthUsers)
	if !ok {
		log.Fatalf("AUTH_USERS has no ADMIN entry")
	}

	c := &client{
		base: "http://localhost" + cfg.HTTPAddr,
		http: &http.Client{Timeout: 10 * time.Second},
	}
	if err := c.login(ctx, user, password); err != nil {
		log.Fatalf("failed to log in: %v", err)
	}

	// Reset the item to a known stock level
	status, err := c.do(ctx, http.MethodPost, "/api/books", map[string]any{
		"id": itemID, "title": "Stress Test", "author": "Load Generator", "price": 9.99, "stock": initialStock,
	}, nil)
	if err != nil {
		log.Fatalf("failed to create item: %v", err)
	}
	if status == http.StatusConflict {
		status, err = c.do(ctx, http.MethodPut, "/api/books/"+itemID, map[string]any{"stock": initialStock}, nil)
		if err != nil || status != http.StatusOK {
			log.Fatalf("failed to reset stock: status %d: %v", status, err)
		}
	}

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			status, err := c.do(ctx, http.MethodPost, "/api/orders", map[string]any{"itemId": itemID, "quantity": 1}, nil)
			if err == nil && status == http.StatusCreated {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d orders succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	// Verify final stock at the owner
	var item struct {
		Stock int `json:"stock"`
	}
	if _, err := c.do(ctx, http.MethodGet, "/api/books/"+itemID, nil, &item); err != nil {
		log.Fatalf("failed to read final stock: %v", err)
	}
	fmt.Printf("Final Stock: %d\n", item.Stock)

	if item.Stock == 0 {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %d\n", item.Stock)
	}
}

func adminAccount(entries []string) (string, string, bool) {
	for _, e := range entries {
		parts := strings.Split(e, ":")
		if len(parts) == 3 && parts[2] == "ADMIN" {
			return parts[0], parts[1], true
		}
	}
	return "", "", false
}

func (c *client) login(ctx context.Context, user, password string) error {
	var out struct {
		Token string `json:"token"`
	}
	status, err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{"username": user, "password": password}, &out)
	if err != nil {
		return err
	}
	if status != http.StatusOK || out.Token == "" {
		return fmt.Errorf("login returned status %d", status)
	}
	c.token = out.Token
	return nil
}

func (c *client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
