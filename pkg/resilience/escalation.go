package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentward/agentward/pkg/logging"
	"github.com/agentward/agentward/pkg/metrics"
)

// AlertSeverity represents the severity level of an alert
type AlertSeverity int

const (
	// SeverityInfo - informational alerts
	SeverityInfo AlertSeverity = iota
	// SeverityWarning - warning alerts that need attention
	SeverityWarning
	// SeverityError - error alerts that need immediate attention
	SeverityError
	// SeverityCritical - critical alerts that need urgent attention
	SeverityCritical
)

func (s AlertSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Alert represents an alert that needs to be routed
type Alert struct {
	ID          string                 `json:"id"`
	Severity    AlertSeverity          `json:"severity"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Source      string                 `json:"source"`
	Timestamp   time.Time              `json:"timestamp"`
	Tags        map[string]string      `json:"tags"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// AlertHandler defines the interface for handling alerts
type AlertHandler interface {
	HandleAlert(ctx context.Context, alert Alert) error
	Name() string
}

// AlertManager routes alerts to its registered handlers with a
// per-source rate cap.
type AlertManager struct {
	handlers []AlertHandler
	mutex    sync.Mutex
	logger   *logging.Logger

	alertCounts   map[string]int
	lastReset     time.Time
	rateLimit     int
	resetInterval time.Duration
}

// NewAlertManager creates a new alert manager
func NewAlertManager(logger *logging.Logger) *AlertManager {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &AlertManager{
		handlers:      make([]AlertHandler, 0),
		logger:        logger,
		alertCounts:   make(map[string]int),
		lastReset:     time.Now(),
		rateLimit:     100,
		resetInterval: time.Hour,
	}
}

// AddHandler adds an alert handler
func (am *AlertManager) AddHandler(handler AlertHandler) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	am.handlers = append(am.handlers, handler)
	am.logger.Info("Alert handler added", "handler", handler.Name())
}

// SendAlert sends an alert to all registered handlers
func (am *AlertManager) SendAlert(ctx context.Context, alert Alert) error {
	am.mutex.Lock()
	if !am.checkRateLimitLocked(alert.Source) {
		am.mutex.Unlock()
		am.logger.Warn("Alert rate limit exceeded",
			"source", alert.Source,
			"title", alert.Title,
		)
		return fmt.Errorf("alert rate limit exceeded for source: %s", alert.Source)
	}
	handlers := append([]AlertHandler(nil), am.handlers...)
	am.mutex.Unlock()

	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}

	am.logger.Info("Sending alert",
		"id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
	)

	var lastErr error
	successCount := 0

	for _, handler := range handlers {
		if err := handler.HandleAlert(ctx, alert); err != nil {
			am.logger.Error("Alert handler failed",
				"handler", handler.Name(),
				"alert_id", alert.ID,
				"error", err,
			)
			lastErr = err
		} else {
			successCount++
		}
	}

	if successCount == 0 && lastErr != nil {
		return fmt.Errorf("all alert handlers failed: %w", lastErr)
	}

	return nil
}

func (am *AlertManager) checkRateLimitLocked(source string) bool {
	now := time.Now()

	if now.Sub(am.lastReset) >= am.resetInterval {
		am.alertCounts = make(map[string]int)
		am.lastReset = now
	}

	count := am.alertCounts[source]
	if count >= am.rateLimit {
		return false
	}

	am.alertCounts[source] = count + 1
	return true
}

// LoggingAlertHandler logs alerts to the application logger
type LoggingAlertHandler struct {
	logger *logging.Logger
}

// NewLoggingAlertHandler creates a new logging alert handler
func NewLoggingAlertHandler(logger *logging.Logger) *LoggingAlertHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &LoggingAlertHandler{logger: logger}
}

// HandleAlert handles an alert by logging it
func (h *LoggingAlertHandler) HandleAlert(ctx context.Context, alert Alert) error {
	fields := []interface{}{
		"alert_id", alert.ID,
		"severity", alert.Severity.String(),
		"source", alert.Source,
		"title", alert.Title,
		"description", alert.Description,
		"timestamp", alert.Timestamp,
	}

	for key, value := range alert.Tags {
		fields = append(fields, fmt.Sprintf("tag_%s", key), value)
	}
	for key, value := range alert.Metadata {
		fields = append(fields, fmt.Sprintf("meta_%s", key), value)
	}

	switch alert.Severity {
	case SeverityInfo:
		h.logger.Info("ALERT: "+alert.Title, fields...)
	case SeverityWarning:
		h.logger.Warn("ALERT: "+alert.Title, fields...)
	default:
		h.logger.Error("ALERT: "+alert.Title, fields...)
	}

	return nil
}

// Name returns the name of the handler
func (h *LoggingAlertHandler) Name() string {
	return "logging"
}

// EscalationMonitor watches a degradation coordinator and raises alerts
// when the level changes or a human handoff becomes recommended. It is
// polled by the hosting agent's worker loop; it spawns no goroutines of
// its own.
type EscalationMonitor struct {
	alertManager *AlertManager
	coordinator  *GracefulDegradationCoordinator
	source       string

	mutex         sync.Mutex
	lastLevel     DegradationLevel
	lastEscalated bool

	logger  *logging.Logger
	metrics *metrics.Metrics
}

// NewEscalationMonitor creates a monitor for one coordinator.
func NewEscalationMonitor(source string, alertManager *AlertManager, coordinator *GracefulDegradationCoordinator, logger *logging.Logger, m *metrics.Metrics) *EscalationMonitor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &EscalationMonitor{
		alertManager: alertManager,
		coordinator:  coordinator,
		source:       source,
		lastLevel:    LevelFull,
		logger:       logger,
		metrics:      m,
	}
}

// Poll inspects the coordinator and sends alerts for level transitions
// and newly recommended escalations. It returns true when a human
// handoff is currently recommended.
func (em *EscalationMonitor) Poll(ctx context.Context) bool {
	level := em.coordinator.Level()
	escalate := em.coordinator.ShouldEscalateToHuman()

	em.mutex.Lock()
	levelChanged := level != em.lastLevel
	previousLevel := em.lastLevel
	newlyEscalated := escalate && !em.lastEscalated
	em.lastLevel = level
	em.lastEscalated = escalate
	em.mutex.Unlock()

	if levelChanged {
		em.sendLevelAlert(ctx, previousLevel, level)
	}

	if newlyEscalated {
		em.metrics.ObserveEscalation()
		em.sendEscalationAlert(ctx)
	}

	return escalate
}

func (em *EscalationMonitor) sendLevelAlert(ctx context.Context, from, to DegradationLevel) {
	severity := SeverityInfo
	switch to {
	case LevelReduced:
		severity = SeverityWarning
	case LevelMinimal:
		severity = SeverityError
	}

	alert := Alert{
		Severity:    severity,
		Title:       "Degradation level changed",
		Description: fmt.Sprintf("Degradation level changed from %s to %s", from.String(), to.String()),
		Source:      em.source,
		Tags: map[string]string{
			"previous_level": from.String(),
			"current_level":  to.String(),
		},
		Metadata: map[string]interface{}{
			"report": em.coordinator.GetDegradationReport(),
		},
	}

	if err := em.alertManager.SendAlert(ctx, alert); err != nil {
		em.logger.Error("Failed to send degradation alert", "error", err)
	}
}

func (em *EscalationMonitor) sendEscalationAlert(ctx context.Context) {
	report := em.coordinator.GetDegradationReport()

	alert := Alert{
		Severity:    SeverityCritical,
		Title:       "Human handoff recommended",
		Description: report.Recommendation,
		Source:      em.source,
		Tags: map[string]string{
			"level": report.CurrentLevel,
		},
		Metadata: map[string]interface{}{
			"confidence": report.Confidence,
			"report":     report,
		},
	}

	if err := em.alertManager.SendAlert(ctx, alert); err != nil {
		em.logger.Error("Failed to send escalation alert", "error", err)
	}
}
