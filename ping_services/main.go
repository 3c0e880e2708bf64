// Ping the lichess directory and socket servers to measure network latency.
//
// Measures cold and warm HTTP round trips against the TV channel listing
// and keepalive/heartbeat round trips over the streaming socket.
//
// Usage:
//
//	go run ./ping_services            # default: 20 requests
//	go run ./ping_services -n 50      # 50 requests per endpoint
//	go run ./ping_services -ws=false  # HTTP only
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/charleschow/chess-tv/internal/adapters/inbound/lichess_ws"
	"github.com/charleschow/chess-tv/internal/config"
)

const (
	channelsPath = "/tv/channels"
	httpTimeout  = 10 * time.Second
	probeTimeout = 5 * time.Second
)

func main() {
	n := flag.Int("n", 20, "Number of requests per endpoint")
	ws := flag.Bool("ws", true, "Also measure socket keepalive round trips")
	flag.Parse()

	cfg := config.Load()

	pingDirectory(cfg.APIBaseURL, *n)
	if *ws {
		pingSocket(cfg.SocketURL, *n)
	}
	fmt.Println()
}

func banner(title string) {
	fmt.Printf("\n%s\n  %s\n%s\n", strings.Repeat("=", 55), title, strings.Repeat("=", 55))
}

func pingDirectory(baseURL string, n int) {
	target := baseURL + channelsPath
	banner("LICHESS DIRECTORY — " + target)

	fmt.Println("\n  Cold-start request (DNS + TLS + HTTP):")
	if ms, code, err := measureHTTP(target, &http.Client{Timeout: httpTimeout}); err != nil {
		fmt.Printf("    FAILED — %v\n", err)
	} else {
		fmt.Printf("    %.1f ms  (HTTP %d)\n", ms, code)
	}

	fmt.Printf("\n  Warm HTTP latency (%d requests, keep-alive):\n", n)
	client := &http.Client{Timeout: httpTimeout}
	if _, _, err := measureHTTP(target, client); err != nil {
		fmt.Printf("  [!] Warm-up request failed: %v\n", err)
		return
	}
	latencies := make([]float64, 0, n)
	pad := len(fmt.Sprint(n))
	for i := 1; i <= n; i++ {
		ms, code, err := measureHTTP(target, client)
		if err != nil {
			fmt.Printf("  [%*d/%d]  FAILED — %v\n", pad, i, n, err)
			continue
		}
		latencies = append(latencies, ms)
		fmt.Printf("  [%*d/%d]  %7.1f ms  (HTTP %d)\n", pad, i, n, ms, code)
	}
	printStats(latencies, "Directory HTTP")
}

func measureHTTP(target string, client *http.Client) (ms float64, statusCode int, err error) {
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return 0, 0, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	return float64(elapsed.Microseconds()) / 1000, resp.StatusCode, nil
}

// pingSocket times "null" keepalives against the "0" heartbeat the server
// answers them with. No game is subscribed, so nothing else arrives.
func pingSocket(base string, n int) {
	banner("LICHESS SOCKET — " + base)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	start := time.Now()
	conn, err := lichess_ws.Dial(ctx, base)
	if err != nil {
		fmt.Printf("  [!] Socket dial failed: %v\n", err)
		return
	}
	defer conn.Close()
	fmt.Printf("\n  Handshake: %.1f ms  (sri=%s)\n", float64(time.Since(start).Microseconds())/1000, conn.SRI())

	fmt.Printf("\n  Keepalive round trips (%d pings):\n", n)
	latencies := make([]float64, 0, n)
	pad := len(fmt.Sprint(n))
	for i := 1; i <= n; i++ {
		ms, err := measureKeepalive(conn)
		if err != nil {
			fmt.Printf("  [!] %v\n", err)
			break
		}
		latencies = append(latencies, ms)
		fmt.Printf("  [%*d/%d]  %7.1f ms  (null/0)\n", pad, i, n, ms)
	}
	printStats(latencies, "Socket keepalive")
}

func measureKeepalive(conn *lichess_ws.Conn) (float64, error) {
	start := time.Now()
	if err := conn.SendKeepalive(); err != nil {
		return 0, fmt.Errorf("keepalive failed: %w", err)
	}
	timeout := time.After(probeTimeout)
	for {
		select {
		case in, ok := <-conn.Inbound():
			if !ok {
				return 0, errors.New("socket closed")
			}
			if in.Err != nil {
				return 0, in.Err
			}
			if _, isEvent, err := lichess_ws.Decode(in.Data); err == nil && !isEvent {
				return float64(time.Since(start).Microseconds()) / 1000, nil
			}
		case <-timeout:
			return 0, errors.New("heartbeat timeout")
		}
	}
}

func printStats(latencies []float64, label string) {
	if len(latencies) < 2 {
		fmt.Printf("\n  Not enough %s samples for statistics.\n", label)
		return
	}
	sorted := slices.Clone(latencies)
	slices.Sort(sorted)

	mean := 0.0
	for _, v := range latencies {
		mean += v
	}
	mean /= float64(len(latencies))

	variance := 0.0
	for _, v := range latencies {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(latencies) - 1)

	at := func(p float64) float64 {
		return sorted[min(int(float64(len(sorted))*p), len(sorted)-1)]
	}

	fmt.Printf("\n  --- %s Stats (%d samples) ---\n", label, len(latencies))
	fmt.Printf("  Min:    %7.1f ms\n", sorted[0])
	fmt.Printf("  Max:    %7.1f ms\n", sorted[len(sorted)-1])
	fmt.Printf("  Mean:   %7.1f ms\n", mean)
	fmt.Printf("  Median: %7.1f ms\n", sorted[len(sorted)/2])
	fmt.Printf("  Stdev:  %7.1f ms\n", math.Sqrt(variance))
	fmt.Printf("  p95:    %7.1f ms\n", at(0.95))
	fmt.Printf("  p99:    %7.1f ms\n", at(0.99))
}
