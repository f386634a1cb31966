package middleware

import (
	"crypto/md5"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

type AlertConfig struct {
	WebhookURL  string
	Environment string
	AppName     string
}

type ErrorAlertMiddleware struct {
	config        AlertConfig
	alertedErrors map[string]time.Time // hash -> last alert time
	mutex         sync.Mutex
	alertCooldown time.Duration // prevent spam
	restartDelay  time.Duration // pause before restarting a panicked loop
}

func NewErrorAlertMiddleware(config AlertConfig) *ErrorAlertMiddleware {
	return &ErrorAlertMiddleware{
		config:        config,
		alertedErrors: make(map[string]time.Time),
		alertCooldown: 10 * time.Minute, // Don't alert same error more than once per 10min
		restartDelay:  5 * time.Second,
	}
}

// HTTP Middleware - wraps HTTP handlers
func (m *ErrorAlertMiddleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer m.recoverAndAlert(fmt.Sprintf("HTTP %s %s", r.Method, r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

// RunBackgroundLoop runs fn under panic recovery and restarts it on panic, so
// one bad message cannot permanently kill the sync runner or embed worker.
// A loop stuck in a panic-restart cycle alerts through the same cooldown as
// every other error, not once per restart.
func (m *ErrorAlertMiddleware) RunBackgroundLoop(taskName string, fn func()) {
	for {
		exited := func() (exited bool) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("❌ Background loop %s: PANIC - %v", taskName, r)
					m.alertOnError(fmt.Errorf("PANIC - %v", r), "Background loop: "+taskName)
				}
			}()
			fn()
			return true
		}()
		if exited {
			return
		}
		time.Sleep(m.restartDelay)
	}
}

// Core error alerting logic
func (m *ErrorAlertMiddleware) alertOnError(err error, context string) {
	errorMsg := fmt.Sprintf("%s: %v", context, err)

	// Create hash of error for deduplication
	hash := fmt.Sprintf("%x", md5.Sum([]byte(errorMsg)))

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Check if we've alerted for this error recently
	if lastAlert, exists := m.alertedErrors[hash]; exists {
		if time.Since(lastAlert) < m.alertCooldown {
			return // Skip alert - too recent
		}
	}

	// Send alert asynchronously
	go m.sendWebhookAlert(errorMsg, context)
	m.alertedErrors[hash] = time.Now()
}

func (m *ErrorAlertMiddleware) recoverAndAlert(context string) {
	if r := recover(); r != nil {
		log.Printf("❌ %s: PANIC - %v", context, r)
		m.alertOnError(fmt.Errorf("PANIC - %v", r), context)
	}
}

func (m *ErrorAlertMiddleware) sendWebhookAlert(errorMsg, context string) {
	if m.config.WebhookURL == "" {
		return // Alerts disabled
	}

	payload := map[string]any{
		"text": fmt.Sprintf("🚨 [%s][%s] %s\nContext: %s",
			m.config.AppName, m.config.Environment, errorMsg, context),
	}

	payloadBytes, _ := json.Marshal(payload)

	resp, err := http.Post(m.config.WebhookURL, "application/json",
		strings.NewReader(string(payloadBytes)))
	if err != nil {
		log.Printf("❌ Failed to send alert: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("❌ Alert webhook failed with status: %d", resp.StatusCode)
	}
}
