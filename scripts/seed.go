// Seed script for creating demo data in Engram.
// Run with: go run ./scripts/seed.go   (daemon must be up)
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Load environment
	envFile := os.Getenv("ENGRAM_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	port := os.Getenv("ENGRAM_PORT")
	if port == "" {
		port = "3838"
	}
	baseURL := fmt.Sprintf("http://localhost:%s", port)

	// Verify the daemon is reachable before seeding
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		log.Fatalf("Failed to reach daemon at %s: %v", baseURL, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Daemon unhealthy at %s: %d", baseURL, resp.StatusCode)
	}
	fmt.Printf("Connected to daemon at %s\n", baseURL)

	// Sample memories across namespaces and categories
	memories := []struct {
		content    string
		category   string
		namespace  string
		confidence float64
		tags       []string
	}{
		{"I prefer dark mode in all interfaces", "preference", "default", 0.95, nil},
		{"I like responses formatted as bullet points", "preference", "default", 0.9, []string{"formatting"}},
		{"User is a backend engineer working with Go", "fact", "default", 1.0, nil},
		{"Always run golangci-lint before committing", "pattern", "work", 0.98, []string{"ci", "lint"}},
		{"Keep responses under 500 words unless asked for detail", "pattern", "default", 0.88, nil},
		{"Decided to use PostgreSQL for the billing service", "decision", "work", 0.92, []string{"db", "billing"}},
		{"Chose chi over gin for the internal API gateway", "decision", "work", 0.87, []string{"http"}},
		{"Deploying on Fridays caused two incidents last quarter", "outcome", "work", 0.9, []string{"deploys"}},
		{"The staging cluster runs Kubernetes 1.31", "fact", "work", 0.85, []string{"infra", "staging"}},
		{"I prefer tabs over spaces for indentation", "preference", "default", 0.8, nil},
	}

	created := 0
	for _, m := range memories {
		body := map[string]any{
			"content":    m.content,
			"category":   m.category,
			"namespace":  m.namespace,
			"confidence": m.confidence,
			"source":     "import",
		}
		if len(m.tags) > 0 {
			body["tags"] = m.tags
		}

		data, _ := json.Marshal(body)
		resp, err := http.Post(baseURL+"/api/memories", "application/json", bytes.NewReader(data))
		if err != nil {
			log.Printf("Warning: Failed to create memory: %v", err)
			continue
		}
		out, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			log.Printf("Warning: Create failed (%d): %s", resp.StatusCode, string(out))
			continue
		}

		var mem struct {
			ID       string `json:"id"`
			Category string `json:"category"`
		}
		_ = json.Unmarshal(out, &mem)
		fmt.Printf("Created memory [%s]: %s\n", mem.Category, truncate(m.content, 50))
		created++
	}

	fmt.Printf("\n=== Seed Complete (%d memories) ===\n", created)
	fmt.Println("\nTo recall memories:")
	fmt.Printf("curl -s %s/api/memories/search -d '{\"query\":\"user preferences\"}'\n", baseURL)
	fmt.Println("\nTo check store status:")
	fmt.Printf("curl -s %s/api/status\n", baseURL)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
