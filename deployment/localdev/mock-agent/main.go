package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// mockRun simulates an agent diagnostic run: two pending polls, then a
// completed answer carrying fenced telemetry JSON the way real agents do.
type mockRun struct {
	hostname string
	polls    int
}

type runRegistry struct {
	mu   sync.Mutex
	runs map[string]*mockRun
	next int
}

func (r *runRegistry) create(hostname string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	id := fmt.Sprintf("mock-run-%d", r.next)
	r.runs[id] = &mockRun{hostname: hostname}
	return id
}

func (r *runRegistry) poll(id string) (*mockRun, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if ok {
		run.polls++
	}
	return run, ok
}

func main() {
	registry := &runRegistry{runs: make(map[string]*mockRun)}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/runs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Goal    string         `json:"goal"`
			Context map[string]any `json:"context"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		hostname, _ := req.Context["hostname"].(string)
		if hostname == "" {
			hostname = "unknown-host"
		}
		writeJSON(w, map[string]any{"run_id": registry.create(hostname)})
	})

	mux.HandleFunc("/api/v1/runs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
		run, ok := registry.poll(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if run.polls < 2 {
			writeJSON(w, map[string]any{"run_id": id, "status": "pending"})
			return
		}
		writeJSON(w, map[string]any{
			"run_id": id,
			"status": "completed",
			"answer": telemetryAnswer(run.hostname),
		})
	})

	logger := log.New(log.Writer(), "agent-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8090",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8090")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

// telemetryAnswer wraps synthetic readings in prose and a code fence to
// exercise the tolerant extraction path on the consumer side.
func telemetryAnswer(hostname string) string {
	reading := map[string]any{
		"cpu_pct":         round1(20 + rand.Float64()*70),
		"memory_pct":      round1(30 + rand.Float64()*60),
		"disk_pct":        round1(40 + rand.Float64()*55),
		"latency_ms":      round1(5 + rand.Float64()*200),
		"packet_loss_pct": round1(rand.Float64() * 3),
		"services_down":   []string{},
		"log_error_count": rand.Intn(30),
	}
	if reading["cpu_pct"].(float64) > 85 {
		reading["services_down"] = []string{"telemetry-agent"}
	}
	body, _ := json.MarshalIndent(reading, "", "  ")
	return fmt.Sprintf("Diagnostics for %s completed.\n\n```json\n%s\n```\n", hostname, body)
}

func round1(v float64) float64 {
	return float64(int(v*10)) / 10
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
