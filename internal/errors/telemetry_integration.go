// Package errors - telemetry integration (optional).
package errors

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/getsentry/sentry-go"
)

// Pre-compiled regex patterns for privacy scrubbing.
var (
	urlRegex        = regexp.MustCompile(`(https?://[^?\s]+)\?\S*`)
	queryParamRegex = regexp.MustCompile(`[?&]([^=\s]+)=([^&\s]+)`)

	apiKeyRegexes = []*regexp.Regexp{
		regexp.MustCompile(`api[_-]?key[=:]\S+`),
		regexp.MustCompile(`token[=:]\S+`),
		regexp.MustCompile(`auth[=:]\S+`),
		regexp.MustCompile(`key[=:][0-9a-fA-F]{8,}`),
		regexp.MustCompile(`\b[0-9a-fA-F]{32}\b`),
	}

	idPatternRegexes = []*regexp.Regexp{
		regexp.MustCompile(`device[_-]?id[=:]\S+`),
		regexp.MustCompile(`client[_-]?id[=:]\S+`),
		regexp.MustCompile(`session[_-]?id[=:]\S+`),
	}
)

func init() {
	hasActiveReporting.Store(false)
}

// TelemetryReporter is an interface for reporting errors to telemetry systems.
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

// SentryReporter implements TelemetryReporter for Sentry.
type SentryReporter struct {
	enabled bool
}

// NewSentryReporter creates a new Sentry telemetry reporter.
func NewSentryReporter(enabled bool) *SentryReporter {
	return &SentryReporter{enabled: enabled}
}

// IsEnabled returns whether Sentry telemetry is enabled.
func (sr *SentryReporter) IsEnabled() bool {
	return sr.enabled
}

// shouldReportToSentry filters errors that represent expected runtime
// conditions rather than bugs: a single xrun under normal operation is
// noise, repeated xruns are a metrics concern, not a telemetry one.
func shouldReportToSentry(ee *EnhancedError) bool {
	if ee.Category == CategoryUnderrun || ee.Category == CategoryOverrun {
		return false
	}
	if ee.Category == CategoryBusy {
		return false
	}
	return true
}

// ReportError reports an enhanced error to Sentry with privacy protection.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if !sr.enabled || ee.IsReported() {
		return
	}

	if !shouldReportToSentry(ee) {
		ee.MarkReported()
		return
	}

	enhancedMessage := fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error())
	scrubbedMessage := scrubMessageForPrivacy(enhancedMessage)

	sentry.WithScope(func(scope *sentry.Scope) {
		errorTitle := generateErrorTitle(ee)

		scope.SetTag("error_title", errorTitle)
		scope.SetTag("component", ee.GetComponent())
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))

		for key, value := range ee.Context {
			scrubbedValue := value
			if strValue, ok := value.(string); ok {
				scrubbedValue = scrubMessageForPrivacy(strValue)
			}
			scope.SetContext(key, map[string]any{"value": scrubbedValue})
		}

		level := getErrorLevel(ee.Category)
		scope.SetLevel(level)
		scope.SetFingerprint([]string{errorTitle, ee.GetComponent(), string(ee.Category)})

		event := sentry.NewEvent()
		event.Message = scrubbedMessage
		event.Level = level
		event.Exception = []sentry.Exception{{
			Type:  errorTitle,
			Value: scrubbedMessage,
		}}

		sentry.CaptureEvent(event)
	})

	ee.MarkReported()
}

// generateErrorTitle creates a meaningful error title for Sentry based on enhanced error context.
func generateErrorTitle(ee *EnhancedError) string {
	operation, hasOperation := ee.Context["operation"].(string)

	var titleParts []string

	component := ee.GetComponent()
	if component != "" && component != ComponentUnknown {
		titleParts = append(titleParts, titleCase(component))
	}

	categoryTitle := formatCategoryForTitle(ee.Category)
	if categoryTitle != "" {
		titleParts = append(titleParts, categoryTitle)
	}

	if hasOperation && operation != "" {
		if operationTitle := formatOperationForTitle(operation); operationTitle != "" {
			titleParts = append(titleParts, operationTitle)
		}
	}

	if len(titleParts) == 0 {
		return fmt.Sprintf("%T", ee.Err)
	}

	return strings.Join(titleParts, " ")
}

// formatCategoryForTitle converts error categories to human-readable titles.
func formatCategoryForTitle(category ErrorCategory) string {
	switch category {
	case CategoryInvalidResource:
		return "Invalid Resource Error"
	case CategoryInvalidState:
		return "Invalid State Error"
	case CategoryInvalidArgument:
		return "Invalid Argument Error"
	case CategoryOutOfMemory:
		return "Out Of Memory Error"
	case CategoryBusy:
		return "Busy Error"
	case CategoryUnderrun:
		return "Underrun"
	case CategoryOverrun:
		return "Overrun"
	case CategoryTimeout:
		return "Timeout Error"
	case CategoryFatal:
		return "Fatal Error"
	default:
		return string(category)
	}
}

// formatOperationForTitle converts operation context to human-readable format.
func formatOperationForTitle(operation string) string {
	formatted := strings.ReplaceAll(operation, "_", " ")
	words := strings.Fields(formatted)
	for i, word := range words {
		words[i] = titleCase(word)
	}
	return strings.Join(words, " ")
}

// titleCase capitalizes the first letter of a string.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// getErrorLevel returns appropriate Sentry level based on category.
func getErrorLevel(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryFatal:
		return sentry.LevelFatal
	case CategoryOutOfMemory, CategoryInvalidArgument, CategoryInvalidState:
		return sentry.LevelError
	case CategoryTimeout, CategoryBusy:
		return sentry.LevelWarning
	case CategoryUnderrun, CategoryOverrun:
		return sentry.LevelInfo
	case CategoryInvalidResource:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

// ErrorHook is a function that gets called when an error is reported.
type ErrorHook func(ee *EnhancedError)

var globalTelemetryReporter TelemetryReporter

var (
	errorHooks         []ErrorHook
	errorHooksMutex    sync.RWMutex
	hasActiveReporting atomic.Bool
)

// SetTelemetryReporter sets the global telemetry reporter.
func SetTelemetryReporter(reporter TelemetryReporter) {
	globalTelemetryReporter = reporter
	updateActiveReportingStatus()
}

// GetTelemetryReporter returns the current telemetry reporter.
func GetTelemetryReporter() TelemetryReporter {
	return globalTelemetryReporter
}

// AddErrorHook adds a hook function that will be called when errors are reported.
func AddErrorHook(hook ErrorHook) {
	errorHooksMutex.Lock()
	errorHooks = append(errorHooks, hook)
	hooksExist := len(errorHooks) > 0
	errorHooksMutex.Unlock()

	telemetryActive := globalTelemetryReporter != nil && globalTelemetryReporter.IsEnabled()
	hasActiveReporting.Store(hooksExist || telemetryActive)
}

// ClearErrorHooks removes all error hooks.
func ClearErrorHooks() {
	errorHooksMutex.Lock()
	errorHooks = nil
	errorHooksMutex.Unlock()

	telemetryActive := globalTelemetryReporter != nil && globalTelemetryReporter.IsEnabled()
	hasActiveReporting.Store(telemetryActive)
}

// updateActiveReportingStatus updates the flag indicating if any reporting is active.
// Must be called without holding errorHooksMutex to avoid deadlock.
func updateActiveReportingStatus() {
	errorHooksMutex.RLock()
	hooksExist := len(errorHooks) > 0
	errorHooksMutex.RUnlock()

	telemetryActive := globalTelemetryReporter != nil && globalTelemetryReporter.IsEnabled()
	hasActiveReporting.Store(hooksExist || telemetryActive)
}

// reportToTelemetryLegacy reports an error to the configured telemetry system
// directly, used when no event bus publisher is registered.
func reportToTelemetryLegacy(ee *EnhancedError) {
	if !hasActiveReporting.Load() {
		return
	}

	if globalTelemetryReporter != nil && globalTelemetryReporter.IsEnabled() {
		globalTelemetryReporter.ReportError(ee)
	}

	errorHooksMutex.RLock()
	hooksExist := len(errorHooks) > 0
	if !hooksExist {
		errorHooksMutex.RUnlock()
		return
	}

	hooks := make([]ErrorHook, len(errorHooks))
	copy(hooks, errorHooks)
	errorHooksMutex.RUnlock()

	for _, hook := range hooks {
		if hook == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					fmt.Printf("error hook panicked: %v\n", r)
				}
			}()
			hook(ee)
		}()
	}
}

// PrivacyScrubber is a function type for privacy scrubbing.
type PrivacyScrubber func(string) string

var globalPrivacyScrubber atomic.Value

// SetPrivacyScrubber sets the global privacy scrubbing function.
func SetPrivacyScrubber(scrubber PrivacyScrubber) {
	if scrubber != nil {
		globalPrivacyScrubber.Store(scrubber)
	}
}

// scrubMessageForPrivacy applies privacy protection to error messages.
func scrubMessageForPrivacy(message string) string {
	if scrubber := globalPrivacyScrubber.Load(); scrubber != nil {
		if fn, ok := scrubber.(PrivacyScrubber); ok {
			return fn(message)
		}
	}
	return basicURLScrub(message)
}

// basicURLScrub provides basic URL anonymization as fallback.
func basicURLScrub(message string) string {
	scrubbed := urlRegex.ReplaceAllString(message, "$1?[REDACTED]")
	scrubbed = queryParamRegex.ReplaceAllString(scrubbed, "?[REDACTED]")

	for _, regex := range apiKeyRegexes {
		scrubbed = regex.ReplaceAllString(scrubbed, "[API_KEY_REDACTED]")
	}
	for _, regex := range idPatternRegexes {
		scrubbed = regex.ReplaceAllString(scrubbed, "[ID_REDACTED]")
	}

	return scrubbed
}
