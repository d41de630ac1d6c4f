// Loadtest is a concurrent HTTP load testing tool for the emotion endpoints.
// It uploads an image repeatedly and measures throughput, latency percentiles,
// and the distribution of returned emotions.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080/api/emotion/detect -concurrency 10 -requests 1000
//	go run ./scripts/loadtest -url http://localhost:8000/predict/emotion -image face.jpg -csv results.csv -out summary.json
//
// Features:
//   - Concurrent workers for high throughput testing
//   - Per-emotion latency and distribution statistics
//   - CSV output with per-request details
//   - JSON summary with percentiles (p50, p90, p95, p99)
//   - Generates a synthetic PNG when no -image file is given
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

func main() {
	var (
		url         = flag.String("url", "http://localhost:8080/api/emotion/detect", "Target URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		field       = flag.String("field", "file", "Multipart field name (file for single, files for batch)")
		imagePath   = flag.String("image", "", "Image file to upload (synthetic PNG when empty)")
		timeoutSec  = flag.Int("timeout", 30, "Per-request timeout in seconds")
	)

	outJSON := flag.String("out", "", "Write JSON summary to this file (optional)")
	outCSV := flag.String("csv", "", "Write per-request CSV to this file (optional)")
	verbose := flag.Bool("v", false, "Verbose per-request logging to stdout")
	flag.Parse()

	imageData, filename, contentType, err := loadImage(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load image: %v\n", err)
		os.Exit(1)
	}

	body, bodyContentType, err := buildUpload(*field, filename, contentType, imageData)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build upload: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}

	jobs := make(chan int)
	var wg sync.WaitGroup

	var total int32
	var success int32
	var failure int32

	// EmotionStats tracks statistics for a returned emotion label.
	type EmotionStats struct {
		Count     int32           `json:"count"`
		Latencies []time.Duration `json:"-"`
	}

	emotionStats := make(map[string]*EmotionStats)
	var emotionMu sync.Mutex

	var allLatencies []time.Duration
	var latMu sync.Mutex

	statusCodes := make(map[int]int32)
	var statusMu sync.Mutex

	// open CSV if requested
	var csvFile *os.File
	var csvWriter *csv.Writer
	var csvMu sync.Mutex
	if *outCSV != "" {
		f, err := os.Create(*outCSV)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create csv file: %v\n", err)
			os.Exit(1)
		}
		csvFile = f
		csvWriter = csv.NewWriter(f)
		// header
		csvWriter.Write([]string{"idx", "timestamp", "emotion", "status", "duration_ms"})
	}

	testStart := time.Now()

	// worker
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for idx := range jobs {
				atomic.AddInt32(&total, 1)
				start := time.Now()

				req, err := http.NewRequest("POST", *url, bytes.NewReader(body))
				if err != nil {
					atomic.AddInt32(&failure, 1)
					continue
				}
				req.Header.Set("Content-Type", bodyContentType)

				resp, err := client.Do(req)
				dur := time.Since(start)

				// record overall latency
				latMu.Lock()
				allLatencies = append(allLatencies, dur)
				latMu.Unlock()

				if err != nil {
					atomic.AddInt32(&failure, 1)
					if *verbose {
						fmt.Printf("[%d] idx=%d error=%v\n", workerID, idx, err)
					}
					continue
				}

				// status code map
				statusMu.Lock()
				statusCodes[resp.StatusCode]++
				statusMu.Unlock()

				if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
					atomic.AddInt32(&success, 1)
				} else {
					atomic.AddInt32(&failure, 1)
				}

				raw, _ := io.ReadAll(resp.Body)
				resp.Body.Close()

				emotion := parseEmotion(raw)
				if emotion == "" {
					emotion = "(none)"
				}

				emotionMu.Lock()
				es, ok := emotionStats[emotion]
				if !ok {
					es = &EmotionStats{}
					emotionStats[emotion] = es
				}
				es.Count++
				es.Latencies = append(es.Latencies, dur)
				emotionMu.Unlock()

				// optional CSV row and verbose
				if csvWriter != nil {
					csvMu.Lock()
					csvWriter.Write([]string{
						fmt.Sprintf("%d", idx),
						time.Now().Format(time.RFC3339Nano),
						emotion,
						fmt.Sprintf("%d", resp.StatusCode),
						fmt.Sprintf("%.3f", float64(dur.Microseconds())/1000.0),
					})
					csvMu.Unlock()
				}

				if *verbose {
					fmt.Printf("[%d] idx=%d emotion=%s status=%d dur=%v\n", workerID, idx, emotion, resp.StatusCode, dur)
				}
			}
		}(i)
	}

	// send jobs
	go func() {
		for i := 0; i < *requests; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	wg.Wait()
	testEnd := time.Now()

	if csvWriter != nil {
		csvWriter.Flush()
		csvFile.Close()
	}

	// summarize
	totalDuration := testEnd.Sub(testStart)
	throughput := float64(total) / totalDuration.Seconds()

	fmt.Println("--- Load Test Summary ---")
	fmt.Printf("Target: %s\n", *url)
	fmt.Printf("Requests: %d  Concurrency: %d\n", *requests, *concurrency)
	fmt.Printf("Total sent: %d  Success: %d  Failure: %d\n", total, success, failure)
	fmt.Printf("Duration: %v  Throughput: %.2f req/s\n", totalDuration, throughput)

	// status codes
	fmt.Println("\nStatus codes:")
	statusMu.Lock()
	var scKeys []int
	for k := range statusCodes {
		scKeys = append(scKeys, k)
	}
	sort.Ints(scKeys)
	for _, k := range scKeys {
		fmt.Printf("  %d -> %d\n", k, statusCodes[k])
	}
	statusMu.Unlock()

	// emotions
	fmt.Println("\nEmotion distribution & stats:")
	emotionMu.Lock()
	var emotionKeys []string
	for k := range emotionStats {
		emotionKeys = append(emotionKeys, k)
	}
	sort.Strings(emotionKeys)
	for _, k := range emotionKeys {
		es := emotionStats[k]
		// compute latency stats for this emotion
		var min, max time.Duration
		var sum time.Duration
		latCount := len(es.Latencies)
		if latCount > 0 {
			min = es.Latencies[0]
			for _, d := range es.Latencies {
				if d < min {
					min = d
				}
				if d > max {
					max = d
				}
				sum += d
			}
		}
		var avg time.Duration
		if latCount > 0 {
			avg = sum / time.Duration(latCount)
		}

		// percentiles
		var p50, p90, p95, p99 time.Duration
		if latCount > 0 {
			// make a copy and sort
			tmp := make([]time.Duration, latCount)
			copy(tmp, es.Latencies)
			sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })
			p := func(pct float64) time.Duration {
				idx := int(float64(len(tmp)-1) * pct)
				if idx < 0 {
					idx = 0
				}
				if idx >= len(tmp) {
					idx = len(tmp) - 1
				}
				return tmp[idx]
			}
			p50 = p(0.50)
			p90 = p(0.90)
			p95 = p(0.95)
			p99 = p(0.99)
		}

		fmt.Printf("  %s -> total=%d\n", k, es.Count)
		if latCount > 0 {
			fmt.Printf("    latencies: samples=%d min=%v avg=%v max=%v p50=%v p90=%v p95=%v p99=%v\n",
				latCount, min, avg, max, p50, p90, p95, p99)
		}
	}
	emotionMu.Unlock()

	// overall latencies
	if len(allLatencies) > 0 {
		tmp := make([]time.Duration, len(allLatencies))
		copy(tmp, allLatencies)
		sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })
		var sum time.Duration
		for _, d := range tmp {
			sum += d
		}
		avg := sum / time.Duration(len(tmp))
		fmt.Println("\nOverall latencies:")
		fmt.Printf("  samples=%d min=%v avg=%v max=%v p50=%v p90=%v p95=%v p99=%v\n",
			len(tmp), tmp[0], avg, tmp[len(tmp)-1], tmp[int(0.5*float64(len(tmp)-1))], tmp[int(0.9*float64(len(tmp)-1))], tmp[int(0.95*float64(len(tmp)-1))], tmp[int(0.99*float64(len(tmp)-1))])
	}

	// quick memory/CPU hint
	fmt.Printf("\nGOMAXPROCS=%d  NumGoroutine=%d\n", runtime.GOMAXPROCS(0), runtime.NumGoroutine())

	// optional JSON output
	if *outJSON != "" {
		type EmotionSummary struct {
			Total int32   `json:"total"`
			P50   float64 `json:"p50_ms"`
			P90   float64 `json:"p90_ms"`
			P95   float64 `json:"p95_ms"`
			P99   float64 `json:"p99_ms"`
		}
		report := map[string]interface{}{}
		report["target"] = *url
		report["requests"] = *requests
		report["concurrency"] = *concurrency
		report["total_sent"] = total
		report["success"] = success
		report["failure"] = failure
		report["duration_ms"] = totalDuration.Milliseconds()
		report["throughput_rps"] = throughput

		esum := map[string]EmotionSummary{}
		emotionMu.Lock()
		for k, v := range emotionStats {
			es := EmotionSummary{Total: v.Count}
			if len(v.Latencies) > 0 {
				tmp := make([]time.Duration, len(v.Latencies))
				copy(tmp, v.Latencies)
				sort.Slice(tmp, func(i, j int) bool { return tmp[i] < tmp[j] })
				pick := func(p float64) float64 { return float64(tmp[int(float64(len(tmp)-1)*p)].Milliseconds()) }
				es.P50 = pick(0.50)
				es.P90 = pick(0.90)
				es.P95 = pick(0.95)
				es.P99 = pick(0.99)
			}
			esum[k] = es
		}
		emotionMu.Unlock()
		report["emotions"] = esum

		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create json file: %v\n", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(report)
		f.Close()
		fmt.Printf("\nWrote JSON summary to %s\n", *outJSON)
	}

	// exit with non-zero if there were failures
	if failure > 0 {
		os.Exit(2)
	}
}

// loadImage reads the file at path, or renders a small synthetic PNG when
// path is empty so the tool works with no fixtures on disk.
func loadImage(path string) ([]byte, string, string, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", "", err
		}
		contentType := "image/jpeg"
		switch strings.ToLower(filepath.Ext(path)) {
		case ".png":
			contentType = "image/png"
		case ".webp":
			contentType = "image/webp"
		}
		return data, filepath.Base(path), contentType, nil
	}

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 4), 128, 255})
		}
	}

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, img); err != nil {
		return nil, "", "", err
	}
	return buf.Bytes(), "synthetic.png", "image/png", nil
}

func buildUpload(field, filename, contentType string, data []byte) ([]byte, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return body.Bytes(), writer.FormDataContentType(), nil
}

func parseEmotion(raw []byte) string {
	var single struct {
		Prediction *struct {
			Emotion string `json:"emotion"`
		} `json:"prediction"`
	}
	if err := json.Unmarshal(raw, &single); err == nil && single.Prediction != nil {
		return single.Prediction.Emotion
	}

	var batch struct {
		Predictions []struct {
			Emotion string `json:"emotion"`
		} `json:"predictions"`
	}
	if err := json.Unmarshal(raw, &batch); err == nil && len(batch.Predictions) > 0 {
		return batch.Predictions[0].Emotion
	}

	return ""
}
