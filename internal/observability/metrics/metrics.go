package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder aggregates in-memory counters and gauges for HTTP requests, upload
// admission outcomes, premium entitlement checks, and dependency health. It
// coordinates concurrent writers via a RWMutex while exposing a thread-safe
// gauge for in-flight upload tracking.
type Recorder struct {
	mu               sync.RWMutex
	requestCount     map[requestLabel]uint64
	requestDuration  map[requestLabel]time.Duration
	uploadAccepted   map[string]uint64
	uploadBytes      map[string]int64
	uploadRejected   map[string]uint64
	premiumChecks    map[string]uint64
	libraryRefreshes map[string]uint64
	dependencyValue  map[string]float64
	dependencyState  map[string]string
	activeUploads    atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:     make(map[requestLabel]uint64),
		requestDuration:  make(map[requestLabel]time.Duration),
		uploadAccepted:   make(map[string]uint64),
		uploadBytes:      make(map[string]int64),
		uploadRejected:   make(map[string]uint64),
		premiumChecks:    make(map[string]uint64),
		libraryRefreshes: make(map[string]uint64),
		dependencyValue:  make(map[string]float64),
		dependencyState:  make(map[string]string),
	}
}

// Default returns the singleton Recorder shared by the package-level helpers.
func Default() *Recorder {
	return defaultRecorder
}

// SetDefault swaps the recorder behind the package-level helpers. Tests use
// it to restore the original recorder after installing their own.
func SetDefault(recorder *Recorder) {
	if recorder != nil {
		defaultRecorder = recorder
	}
}

// Registry bundles a Recorder for components that carry their own
// instrumentation pipeline. Constructing one installs its Recorder as the
// package default so helper functions feed the same registry.
type Registry struct {
	Recorder *Recorder
}

// NewRegistry builds a Registry with a fresh Recorder and installs it as the
// package default.
func NewRegistry() *Registry {
	recorder := New()
	SetDefault(recorder)
	return &Registry{Recorder: recorder}
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by HTTP method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// UploadStarted increments the in-flight upload gauge.
func (r *Recorder) UploadStarted() {
	r.activeUploads.Add(1)
}

// UploadFinished decrements the in-flight upload gauge, guarding against
// negative counts when concurrent updates race.
func (r *Recorder) UploadFinished() {
	r.decrementGauge(&r.activeUploads)
}

// UploadAccepted records files admitted for a tier ("free" or "premium")
// along with the bytes written to the library.
func (r *Recorder) UploadAccepted(tier string, files int, bytes int64) {
	normalized := normalizeName(tier)
	r.mu.Lock()
	if files > 0 {
		r.uploadAccepted[normalized] += uint64(files)
	}
	if bytes > 0 {
		r.uploadBytes[normalized] += bytes
	}
	r.mu.Unlock()
}

// UploadRejected records a refused upload keyed by rejection reason (e.g.
// "quota", "size", "type", "session").
func (r *Recorder) UploadRejected(reason string) {
	normalized := normalizeName(reason)
	r.mu.Lock()
	r.uploadRejected[normalized]++
	r.mu.Unlock()
}

// ObservePremiumCheck records an entitlement resolution keyed by outcome
// (e.g. "premium", "free", "denied", "error").
func (r *Recorder) ObservePremiumCheck(outcome string) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.premiumChecks[normalized]++
	r.mu.Unlock()
}

// ObserveLibraryRefresh records a post-upload catalog refresh keyed by
// outcome ("ok" or "error").
func (r *Recorder) ObserveLibraryRefresh(outcome string) {
	normalized := normalizeName(outcome)
	r.mu.Lock()
	r.libraryRefreshes[normalized]++
	r.mu.Unlock()
}

// SetDependencyHealth normalizes dependency identifiers, maps status strings
// to numeric health values, and stores both representations for export.
func (r *Recorder) SetDependencyHealth(service, status string) {
	normalizedService := normalizeName(service)
	normalizedStatus := strings.ToLower(strings.TrimSpace(status))
	value := 0.0
	switch normalizedStatus {
	case "ok", "healthy":
		value = 1
	case "disabled":
		value = 0
	default:
		value = -1
	}
	r.mu.Lock()
	r.dependencyValue[normalizedService] = value
	r.dependencyState[normalizedService] = normalizedStatus
	r.mu.Unlock()
}

// ActiveUploads exposes the current gauge of in-flight uploads.
func (r *Recorder) ActiveUploads() int64 {
	return r.activeUploads.Load()
}

// UploadCounts returns copies of the accepted and rejected upload counters
// for testing and reporting purposes.
func (r *Recorder) UploadCounts() (accepted map[string]uint64, rejected map[string]uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	accepted = make(map[string]uint64, len(r.uploadAccepted))
	for k, v := range r.uploadAccepted {
		accepted[k] = v
	}
	rejected = make(map[string]uint64, len(r.uploadRejected))
	for k, v := range r.uploadRejected {
		rejected[k] = v
	}
	return accepted, rejected
}

// Reset clears all counters and gauges on the recorder. It is intended for
// test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.uploadAccepted = make(map[string]uint64)
	r.uploadBytes = make(map[string]int64)
	r.uploadRejected = make(map[string]uint64)
	r.premiumChecks = make(map[string]uint64)
	r.libraryRefreshes = make(map[string]uint64)
	r.dependencyValue = make(map[string]float64)
	r.dependencyState = make(map[string]string)
	r.activeUploads.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus text
// exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the Recorder's metrics in Prometheus text format, sorting
// label sets to provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	acceptedTiers := sortedKeys(r.uploadAccepted)
	byteTiers := sortedKeys(r.uploadBytes)
	rejectReasons := sortedKeys(r.uploadRejected)
	premiumOutcomes := sortedKeys(r.premiumChecks)
	refreshOutcomes := sortedKeys(r.libraryRefreshes)
	dependencies := sortedKeys(r.dependencyValue)

	fmt.Fprintln(w, "# HELP mediadrop_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE mediadrop_http_requests_total counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "mediadrop_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP mediadrop_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE mediadrop_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		duration := r.requestDuration[label].Seconds()
		fmt.Fprintf(w, "mediadrop_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, duration)
	}

	fmt.Fprintln(w, "# HELP mediadrop_http_request_duration_seconds_count Total number of observations for request durations")
	fmt.Fprintln(w, "# TYPE mediadrop_http_request_duration_seconds_count counter")
	for _, label := range requestLabels {
		count := r.requestCount[label]
		fmt.Fprintf(w, "mediadrop_http_request_duration_seconds_count{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, count)
	}

	fmt.Fprintln(w, "# HELP mediadrop_uploads_accepted_total Files admitted to libraries by entitlement tier")
	fmt.Fprintln(w, "# TYPE mediadrop_uploads_accepted_total counter")
	for _, tier := range acceptedTiers {
		fmt.Fprintf(w, "mediadrop_uploads_accepted_total{tier=\"%s\"} %d\n", tier, r.uploadAccepted[tier])
	}

	fmt.Fprintln(w, "# HELP mediadrop_upload_bytes_total Bytes written to libraries by entitlement tier")
	fmt.Fprintln(w, "# TYPE mediadrop_upload_bytes_total counter")
	for _, tier := range byteTiers {
		fmt.Fprintf(w, "mediadrop_upload_bytes_total{tier=\"%s\"} %d\n", tier, r.uploadBytes[tier])
	}

	fmt.Fprintln(w, "# HELP mediadrop_uploads_rejected_total Refused uploads by rejection reason")
	fmt.Fprintln(w, "# TYPE mediadrop_uploads_rejected_total counter")
	for _, reason := range rejectReasons {
		fmt.Fprintf(w, "mediadrop_uploads_rejected_total{reason=\"%s\"} %d\n", reason, r.uploadRejected[reason])
	}

	fmt.Fprintln(w, "# HELP mediadrop_active_uploads Current number of in-flight upload requests")
	fmt.Fprintln(w, "# TYPE mediadrop_active_uploads gauge")
	fmt.Fprintf(w, "mediadrop_active_uploads %d\n", r.activeUploads.Load())

	fmt.Fprintln(w, "# HELP mediadrop_premium_checks_total Premium entitlement resolutions by outcome")
	fmt.Fprintln(w, "# TYPE mediadrop_premium_checks_total counter")
	for _, outcome := range premiumOutcomes {
		fmt.Fprintf(w, "mediadrop_premium_checks_total{outcome=\"%s\"} %d\n", outcome, r.premiumChecks[outcome])
	}

	fmt.Fprintln(w, "# HELP mediadrop_library_refreshes_total Post-upload catalog refreshes by outcome")
	fmt.Fprintln(w, "# TYPE mediadrop_library_refreshes_total counter")
	for _, outcome := range refreshOutcomes {
		fmt.Fprintf(w, "mediadrop_library_refreshes_total{outcome=\"%s\"} %d\n", outcome, r.libraryRefreshes[outcome])
	}

	fmt.Fprintln(w, "# HELP mediadrop_dependency_health Health reported by backing dependencies (1=ok,0=disabled,-1=degraded)")
	fmt.Fprintln(w, "# TYPE mediadrop_dependency_health gauge")
	for _, service := range dependencies {
		fmt.Fprintf(w, "mediadrop_dependency_health{service=\"%s\",status=\"%s\"} %f\n", service, r.dependencyState[service], r.dependencyValue[service])
	}
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
			continue
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func looksLikeIdentifier(segment string) bool {
	if len(segment) >= 16 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// UploadAccepted records admitted files on the default recorder.
func UploadAccepted(tier string, files int, bytes int64) {
	defaultRecorder.UploadAccepted(tier, files, bytes)
}

// UploadRejected records a refused upload on the default recorder.
func UploadRejected(reason string) {
	defaultRecorder.UploadRejected(reason)
}

// ObservePremiumCheck records an entitlement resolution on the default recorder.
func ObservePremiumCheck(outcome string) {
	defaultRecorder.ObservePremiumCheck(outcome)
}

// SetDependencyHealth updates dependency health on the default recorder.
func SetDependencyHealth(service, status string) {
	defaultRecorder.SetDependencyHealth(service, status)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
