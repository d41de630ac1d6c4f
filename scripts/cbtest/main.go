// Cbtest is a tool to verify circuit breaker, retry and degraded-response
// behavior in the emotion gateway by simulating inference service failures.
//
// Usage:
//
//	go run ./scripts/cbtest -gateway http://localhost:8080 -ml-port 8000
//
// Run the gateway and a mock inference service (scripts/mlmock) first. The
// tool sends detection requests, kills the inference service, and verifies
// the gateway keeps answering with neutral fallbacks while the breaker opens.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

type detectResult struct {
	Status     int
	Emotion    string
	Confidence float64
}

// A neutral 0.5 answer is the gateway's canned fallback, so it marks a
// degraded response rather than a real prediction.
func (r detectResult) degraded() bool {
	return r.Status == http.StatusOK && r.Emotion == "neutral" && r.Confidence == 0.5
}

func main() {
	var (
		gatewayURL = flag.String("gateway", "http://localhost:8080", "Gateway URL")
		mlPort     = flag.Int("ml-port", 8000, "Inference service port to kill for testing")
		requests   = flag.Int("requests", 20, "Requests per phase")
		skipKill   = flag.Bool("skip-kill", false, "Skip the kill inference service phase")
		cooldown   = flag.Duration("cooldown", 0, "Wait this long before the recovery probe (0 skips it)")
	)
	flag.Parse()

	client := &http.Client{Timeout: 15 * time.Second}

	fmt.Println(colorCyan + "╔════════════════════════════════════════════════════════════════╗" + colorReset)
	fmt.Println(colorCyan + "║         CIRCUIT BREAKER & FALLBACK TEST                       ║" + colorReset)
	fmt.Println(colorCyan + "╚════════════════════════════════════════════════════════════════╝" + colorReset)
	fmt.Println()

	// PHASE 1: Verify normal operation
	fmt.Println(colorBlue + "━━━ PHASE 1: Normal Operation ━━━" + colorReset)
	fmt.Println("Sending detection requests against a healthy inference service...")

	emotionHits := make(map[string]int)
	for i := 0; i < *requests; i++ {
		result, err := sendDetect(client, *gatewayURL)
		if err != nil {
			fmt.Printf(colorRed+"  Request %d: ERROR - %v\n"+colorReset, i+1, err)
			continue
		}
		if result.Status != http.StatusOK {
			fmt.Printf(colorRed+"  Request %d: Status=%d\n"+colorReset, i+1, result.Status)
			continue
		}
		emotionHits[result.Emotion]++
	}

	fmt.Println("\n  Emotion distribution:")
	for emotion, count := range emotionHits {
		fmt.Printf("    %s → %d responses\n", emotion, count)
	}
	if len(emotionHits) == 0 {
		fmt.Println(colorRed + "  ✗ No responses! Are the gateway and inference service running?" + colorReset)
		os.Exit(1)
	}
	fmt.Println(colorGreen + "  ✓ Normal operation verified" + colorReset)
	fmt.Println()

	// PHASE 2: Kill the inference service and verify fallbacks
	if !*skipKill {
		fmt.Println(colorBlue + "━━━ PHASE 2: Inference Failure & Fallback ━━━" + colorReset)
		fmt.Printf("Killing inference service on port %d...\n", *mlPort)

		if err := killService(*mlPort); err != nil {
			fmt.Printf(colorYellow+"  Warning: Could not kill inference service: %v\n"+colorReset, err)
		} else {
			fmt.Printf(colorGreen+"  ✓ Inference service on port %d killed\n"+colorReset, *mlPort)
		}

		time.Sleep(500 * time.Millisecond)

		fmt.Println("\n  Sending requests (should degrade to neutral fallbacks)...")
		degradedCount := 0
		for i := 0; i < *requests; i++ {
			result, err := sendDetect(client, *gatewayURL)
			if err != nil {
				fmt.Printf(colorRed+"  Request %d: ERROR - %v\n"+colorReset, i+1, err)
				continue
			}
			if result.degraded() {
				degradedCount++
			} else {
				fmt.Printf(colorYellow+"  Request %d: Status=%d Emotion=%s\n"+colorReset, i+1, result.Status, result.Emotion)
			}
		}

		fmt.Printf("\n  Results: %d/%d degraded to neutral\n", degradedCount, *requests)
		if degradedCount == *requests {
			fmt.Println(colorGreen + "  ✓ All requests answered with fallbacks (degradation working!)" + colorReset)
		} else {
			fmt.Println(colorYellow + "  ⚠ Some requests were not degraded (check gateway logs)" + colorReset)
		}
		fmt.Println()
	}

	// PHASE 3: Check breaker state via metrics
	fmt.Println(colorBlue + "━━━ PHASE 3: Circuit Breaker Status ━━━" + colorReset)
	fmt.Println("Checking /api/emotion/metrics endpoint...")

	metrics, err := getMetrics(client, *gatewayURL+"/api/emotion/metrics")
	if err != nil {
		fmt.Printf(colorYellow+"  Could not fetch metrics: %v\n"+colorReset, err)
	} else {
		if clientStats, ok := metrics["client"].(map[string]interface{}); ok {
			state, _ := clientStats["circuit_state"].(string)
			success := int(asFloat(clientStats["success_count"]))
			failure := int(asFloat(clientStats["failure_count"]))
			rejected := int(asFloat(clientStats["rejected_count"]))

			stateLabel := colorGreen + state + colorReset
			if state == "open" {
				stateLabel = colorRed + state + colorReset
			}
			fmt.Printf("\n  Circuit state: %s\n", stateLabel)
			fmt.Printf("  Upstream calls: success=%d failure=%d rejected=%d\n", success, failure, rejected)
		}
		if up, ok := metrics["upstream"].(map[string]interface{}); ok {
			healthy, _ := up["healthy"].(bool)
			status := colorGreen + "HEALTHY" + colorReset
			if !healthy {
				status = colorRed + "UNHEALTHY" + colorReset
			}
			fmt.Printf("  Upstream %v → %s\n", up["url"], status)
		}
	}
	fmt.Println()

	// PHASE 4: Recovery probe
	if *cooldown > 0 {
		fmt.Println(colorBlue + "━━━ PHASE 4: Recovery Probe ━━━" + colorReset)
		fmt.Printf("Waiting %v for the breaker cooldown (restart mlmock now to see recovery)...\n", *cooldown)
		time.Sleep(*cooldown)

		result, err := sendDetect(client, *gatewayURL)
		if err != nil {
			fmt.Printf("  Probe failed: %v\n", err)
		} else if result.degraded() {
			fmt.Println(colorYellow + "  Probe still degraded, inference service not back yet" + colorReset)
		} else {
			fmt.Printf(colorGreen+"  ✓ Real prediction again: %s (%.2f)\n"+colorReset, result.Emotion, result.Confidence)
		}
		fmt.Println()
	}

	// Summary
	fmt.Println(colorCyan + "╔════════════════════════════════════════════════════════════════╗" + colorReset)
	fmt.Println(colorCyan + "║                    TEST COMPLETE                               ║" + colorReset)
	fmt.Println(colorCyan + "╚════════════════════════════════════════════════════════════════╝" + colorReset)
	fmt.Println()
	fmt.Println("Key behaviors verified:")
	fmt.Println("  1. Real predictions while the inference service is up")
	fmt.Println("  2. Neutral fallbacks when it is down")
	fmt.Println("  3. Circuit breaker state via /api/emotion/metrics")
	fmt.Println("  4. Recovery after the cooldown window")
	fmt.Println()
	fmt.Println("Check gateway logs for detailed retry and circuit breaker activity.")
}

func sendDetect(client *http.Client, gatewayURL string) (detectResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="probe.png"`)
	header.Set("Content-Type", "image/png")

	part, err := writer.CreatePart(header)
	if err != nil {
		return detectResult{}, err
	}
	if _, err := part.Write([]byte("probe-image")); err != nil {
		return detectResult{}, err
	}
	if err := writer.Close(); err != nil {
		return detectResult{}, err
	}

	req, err := http.NewRequest("POST", gatewayURL+"/api/emotion/detect", body)
	if err != nil {
		return detectResult{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := client.Do(req)
	if err != nil {
		return detectResult{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return detectResult{}, err
	}

	var parsed struct {
		Prediction struct {
			Emotion    string  `json:"emotion"`
			Confidence float64 `json:"confidence"`
		} `json:"prediction"`
	}
	json.Unmarshal(raw, &parsed)

	return detectResult{
		Status:     resp.StatusCode,
		Emotion:    parsed.Prediction.Emotion,
		Confidence: parsed.Prediction.Confidence,
	}, nil
}

func killService(port int) error {
	cmd := exec.Command("lsof", "-ti", fmt.Sprintf(":%d", port))
	output, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("no process found on port %d", port)
	}

	pid := strings.TrimSpace(string(output))
	if pid == "" {
		return fmt.Errorf("no process found on port %d", port)
	}

	killCmd := exec.Command("kill", pid)
	return killCmd.Run()
}

func getMetrics(client *http.Client, url string) (map[string]interface{}, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var metrics map[string]interface{}
	if err := json.Unmarshal(body, &metrics); err != nil {
		return nil, err
	}

	return metrics, nil
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
