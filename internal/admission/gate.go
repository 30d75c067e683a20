// Package admission runs upload requests through the ordered validation
// pipeline: app authentication, session resolution, feature flags, premium
// entitlement, daily quota, per-file size and type checks, and finally
// persistence plus the post-upload rescan signal.
package admission

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"mediadrop/internal/auth"
	"mediadrop/internal/entitlement"
	"mediadrop/internal/library"
	"mediadrop/internal/observability/metrics"
	"mediadrop/internal/policy"
	"mediadrop/internal/quota"
	"mediadrop/internal/uploader"
)

// Reason classifies a rejection so callers can distinguish retryable,
// terminal, and upgrade-suggesting outcomes.
type Reason string

const (
	ReasonAuthentication Reason = "authentication"
	ReasonSession        Reason = "session"
	ReasonDisabled       Reason = "disabled"
	ReasonValidation     Reason = "validation"
	ReasonQuota          Reason = "quota"
	ReasonSizeExceeded   Reason = "size"
	ReasonTypeRejected   Reason = "type"
	ReasonNotFound       Reason = "not-found"
	ReasonExists         Reason = "exists"
	ReasonInternal       Reason = "internal"
)

// Rejection is a terminal pipeline outcome. UpgradeRequired marks quota and
// free-tier size rejections a client may resolve by upgrading.
type Rejection struct {
	Reason          Reason
	Message         string
	UpgradeRequired bool
}

func (r *Rejection) Error() string {
	return r.Message
}

func reject(reason Reason, message string) *Rejection {
	return &Rejection{Reason: reason, Message: message}
}

func rejectUpgrade(reason Reason, message string) *Rejection {
	return &Rejection{Reason: reason, Message: message, UpgradeRequired: true}
}

// AppCredentials carries the four app-identity values taken from request
// headers.
type AppCredentials struct {
	APIKey        string
	SecurityToken string
	AppPackage    string
	UserAgent     string
}

// Candidate is one file of an inbound batch. Size must reflect the full
// spooled byte count before Admit is called so quota and size checks run
// ahead of any write.
type Candidate struct {
	FileName string
	Size     int64
	Content  io.Reader
}

// Request is a complete upload admission request.
type Request struct {
	App            AppCredentials
	SessionToken   string
	LibraryID      string
	FolderID       string
	ClaimedPremium bool
	PremiumToken   string
	Candidates     []Candidate
}

// Result reports an accepted batch.
type Result struct {
	Principal auth.Principal
	Library   library.Library
	Premium   bool
	Outcomes  []uploader.Outcome
}

// LimitsReport summarizes the caller's quota position for introspection.
// Remaining values use -1 as the "unlimited" sentinel.
type LimitsReport struct {
	Premium             bool
	DailyUploadLimit    int
	DailySizeLimitMB    int
	MaxFileSizeMB       int
	FilesUploadedToday  int
	SizeUploadedTodayMB int
	RemainingFiles      int
	RemainingSizeMB     int
}

// Config carries the operator-facing admission settings. All limits are in
// whole megabytes; zero disables the corresponding bound.
type Config struct {
	APIKey          string
	SecurityToken   string
	AppPackage      string
	UserAgentMarker string

	EnableUploads       bool
	AllowFolderCreation bool

	MaxFileSizeMB           int
	FreeMaxFileSizeMB       int
	FreeDailyUploadLimit    int
	FreeDailySizeLimitMB    int
	PremiumDailyUploadLimit int
	PremiumDailySizeLimitMB int
}

func (c Config) premiumCapsConfigured() bool {
	return c.PremiumDailyUploadLimit > 0 || c.PremiumDailySizeLimitMB > 0
}

// Deps bundles the collaborators the gate orchestrates.
type Deps struct {
	Rules        policy.Rules
	Ledger       *quota.Ledger
	Entitlements *entitlement.Resolver
	Catalog      library.Catalog
	Browser      *library.Browser
	Executor     *uploader.Executor
	Sessions     *auth.Manager
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
}

// Gate is the decision engine for upload admission. It owns no state of its
// own; the ledger carries the only mutable data.
type Gate struct {
	cfg          Config
	rules        policy.Rules
	ledger       *quota.Ledger
	entitlements *entitlement.Resolver
	catalog      library.Catalog
	browser      *library.Browser
	executor     *uploader.Executor
	sessions     *auth.Manager
	logger       *slog.Logger
	metrics      *metrics.Recorder
}

// NewGate constructs a gate from its configuration and collaborators.
func NewGate(cfg Config, deps Deps) (*Gate, error) {
	if deps.Ledger == nil {
		return nil, errors.New("admission: usage ledger is required")
	}
	if deps.Entitlements == nil {
		return nil, errors.New("admission: entitlement resolver is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("admission: library catalog is required")
	}
	if deps.Browser == nil {
		return nil, errors.New("admission: folder browser is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("admission: upload executor is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("admission: session manager is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := deps.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}
	return &Gate{
		cfg:          cfg,
		rules:        deps.Rules,
		ledger:       deps.Ledger,
		entitlements: deps.Entitlements,
		catalog:      deps.Catalog,
		browser:      deps.Browser,
		executor:     deps.Executor,
		sessions:     deps.Sessions,
		logger:       logger,
		metrics:      recorder,
	}, nil
}

// Settings exposes a copy of the gate configuration for transport handlers.
func (g *Gate) Settings() Config {
	return g.cfg
}

// AuthenticateApp verifies the four app-identity values against
// configuration. Secrets are compared in constant time; the user agent
// must contain the configured client marker.
func (g *Gate) AuthenticateApp(app AppCredentials) bool {
	ok := subtle.ConstantTimeCompare([]byte(app.APIKey), []byte(g.cfg.APIKey)) == 1
	ok = subtle.ConstantTimeCompare([]byte(app.SecurityToken), []byte(g.cfg.SecurityToken)) == 1 && ok
	ok = subtle.ConstantTimeCompare([]byte(app.AppPackage), []byte(g.cfg.AppPackage)) == 1 && ok
	if g.cfg.UserAgentMarker != "" && !strings.Contains(app.UserAgent, g.cfg.UserAgentMarker) {
		ok = false
	}
	return ok
}

// ResolveSession resolves a bearer token to a principal, mapping missing or
// invalid sessions to a session rejection.
func (g *Gate) ResolveSession(ctx context.Context, token string) (auth.Principal, error) {
	principal, ok, err := g.sessions.Resolve(ctx, token)
	if err != nil {
		g.logger.Error("session lookup failed", "error", err)
		return auth.Principal{}, reject(ReasonInternal, "internal server error")
	}
	if !ok {
		return auth.Principal{}, reject(ReasonSession, "invalid or expired session")
	}
	return principal, nil
}

// Admit runs the full pipeline for an upload batch. It returns either an
// accepted Result or a *Rejection; no step is retried and the first failure
// is terminal for the whole request.
func (g *Gate) Admit(ctx context.Context, req Request) (Result, error) {
	if !g.AuthenticateApp(req.App) {
		g.metrics.UploadRejected(string(ReasonAuthentication))
		return Result{}, reject(ReasonAuthentication, "app authentication failed")
	}

	principal, err := g.ResolveSession(ctx, req.SessionToken)
	if err != nil {
		g.metrics.UploadRejected(string(ReasonSession))
		return Result{}, err
	}

	if !g.cfg.EnableUploads {
		g.metrics.UploadRejected(string(ReasonDisabled))
		return Result{}, reject(ReasonDisabled, "uploads are currently disabled")
	}

	if strings.TrimSpace(req.LibraryID) == "" {
		g.metrics.UploadRejected(string(ReasonValidation))
		return Result{}, reject(ReasonValidation, "library ID is required")
	}
	if len(req.Candidates) == 0 {
		g.metrics.UploadRejected(string(ReasonValidation))
		return Result{}, reject(ReasonValidation, "no files provided")
	}

	ent := g.entitlements.Resolve(ctx, principal.UserID, req.ClaimedPremium, req.PremiumToken)
	g.observeEntitlement(ent)

	if rej := g.checkQuota(principal.UserID, ent.Premium, req.Candidates); rej != nil {
		g.metrics.UploadRejected(string(rej.Reason))
		return Result{}, rej
	}

	lib, found, err := g.catalog.GetLibrary(ctx, req.LibraryID)
	if err != nil {
		g.logger.Error("library lookup failed", "library_id", req.LibraryID, "error", err)
		g.metrics.UploadRejected(string(ReasonInternal))
		return Result{}, reject(ReasonInternal, "internal server error")
	}
	if !found {
		g.metrics.UploadRejected(string(ReasonNotFound))
		return Result{}, reject(ReasonNotFound, "library not found")
	}

	targetDir, err := g.browser.TargetDir(lib, req.FolderID, g.cfg.AllowFolderCreation)
	if err != nil {
		rej := folderRejection(err)
		g.metrics.UploadRejected(string(rej.Reason))
		return Result{}, rej
	}

	if rej := g.checkCandidates(lib, ent.Premium, req.Candidates); rej != nil {
		g.metrics.UploadRejected(string(rej.Reason))
		return Result{}, rej
	}

	outcomes := make([]uploader.Outcome, 0, len(req.Candidates))
	var totalBytes int64
	for _, candidate := range req.Candidates {
		outcome, err := g.executor.Persist(targetDir, candidate.FileName, candidate.Content)
		if err != nil {
			g.logger.Error("file persist failed",
				"user_id", principal.UserID,
				"library_id", lib.ID,
				"file_name", candidate.FileName,
				"persisted", len(outcomes),
				"error", err)
			g.metrics.UploadRejected(string(ReasonInternal))
			return Result{}, reject(ReasonInternal, "failed to save file")
		}
		outcomes = append(outcomes, outcome)
		totalBytes += outcome.Size
	}

	tier := "free"
	if ent.Premium {
		tier = "premium"
	}
	if !ent.Premium || g.cfg.premiumCapsConfigured() {
		g.ledger.Record(principal.UserID, len(outcomes), totalBytes)
	}
	g.metrics.UploadAccepted(tier, len(outcomes), totalBytes)
	g.logger.Info("upload accepted",
		"user_id", principal.UserID,
		"library_id", lib.ID,
		"files", len(outcomes),
		"bytes", totalBytes,
		"premium", ent.Premium)

	g.signalRefresh(lib.ID)

	return Result{Principal: principal, Library: lib, Premium: ent.Premium, Outcomes: outcomes}, nil
}

// Libraries lists the host libraries for browsing.
func (g *Gate) Libraries(ctx context.Context) ([]library.Library, error) {
	libs, err := g.catalog.ListLibraries(ctx)
	if err != nil {
		g.logger.Error("library listing failed", "error", err)
		return nil, reject(ReasonInternal, "internal server error")
	}
	return libs, nil
}

// Folders lists the directories one level beneath subPath in the library.
func (g *Gate) Folders(ctx context.Context, libraryID, subPath string) ([]library.Folder, error) {
	if strings.TrimSpace(libraryID) == "" {
		return nil, reject(ReasonValidation, "library ID is required")
	}
	lib, found, err := g.catalog.GetLibrary(ctx, libraryID)
	if err != nil {
		g.logger.Error("library lookup failed", "library_id", libraryID, "error", err)
		return nil, reject(ReasonInternal, "internal server error")
	}
	if !found {
		return nil, reject(ReasonNotFound, "library not found")
	}
	return g.browser.ListFolders(lib, subPath), nil
}

// CreateFolder creates a folder beneath parentPath in the library, honoring
// the administrative toggle and the path bounds enforced by the browser.
func (g *Gate) CreateFolder(ctx context.Context, libraryID, parentPath, name string) (string, error) {
	if !g.cfg.AllowFolderCreation {
		return "", reject(ReasonDisabled, "folder creation is disabled")
	}
	if strings.TrimSpace(libraryID) == "" {
		return "", reject(ReasonValidation, "library ID is required")
	}
	if strings.TrimSpace(name) == "" {
		return "", reject(ReasonValidation, "folder name is required")
	}
	lib, found, err := g.catalog.GetLibrary(ctx, libraryID)
	if err != nil {
		g.logger.Error("library lookup failed", "library_id", libraryID, "error", err)
		return "", reject(ReasonInternal, "internal server error")
	}
	if !found {
		return "", reject(ReasonNotFound, "library not found")
	}
	created, err := g.browser.CreateFolder(lib, parentPath, name)
	if err != nil {
		return "", folderRejection(err)
	}
	return created, nil
}

// LimitsFor reports the caller's quota position for the resolved tier.
func (g *Gate) LimitsFor(ctx context.Context, userID string, claimedPremium bool, premiumToken string) LimitsReport {
	ent := g.entitlements.Resolve(ctx, userID, claimedPremium, premiumToken)
	g.observeEntitlement(ent)
	usage := g.ledger.Usage(userID)

	report := LimitsReport{
		Premium:             ent.Premium,
		FilesUploadedToday:  usage.Files,
		SizeUploadedTodayMB: usage.MB(),
	}
	if ent.Premium {
		report.DailyUploadLimit = g.cfg.PremiumDailyUploadLimit
		report.DailySizeLimitMB = g.cfg.PremiumDailySizeLimitMB
		report.MaxFileSizeMB = g.cfg.MaxFileSizeMB
	} else {
		report.DailyUploadLimit = g.cfg.FreeDailyUploadLimit
		report.DailySizeLimitMB = g.cfg.FreeDailySizeLimitMB
		report.MaxFileSizeMB = g.cfg.FreeMaxFileSizeMB
	}
	report.RemainingFiles = remaining(report.DailyUploadLimit, usage.Files)
	report.RemainingSizeMB = remaining(report.DailySizeLimitMB, usage.MB())
	return report
}

func remaining(limit, used int) int {
	if limit <= 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// checkQuota applies the daily caps for the tier. The free tier is always
// bounded; premium traffic is bounded only when premium caps are configured.
func (g *Gate) checkQuota(userID string, premium bool, batch []Candidate) *Rejection {
	fileLimit := g.cfg.FreeDailyUploadLimit
	sizeLimit := g.cfg.FreeDailySizeLimitMB
	upgrade := true
	if premium {
		if !g.cfg.premiumCapsConfigured() {
			return nil
		}
		fileLimit = g.cfg.PremiumDailyUploadLimit
		sizeLimit = g.cfg.PremiumDailySizeLimitMB
		upgrade = false
	}

	usage := g.ledger.Usage(userID)
	if fileLimit > 0 && usage.Files+len(batch) > fileLimit {
		msg := fmt.Sprintf("daily upload limit reached (%d/%d files)", usage.Files, fileLimit)
		if upgrade {
			return rejectUpgrade(ReasonQuota, msg)
		}
		return reject(ReasonQuota, msg)
	}
	if sizeLimit > 0 {
		var batchBytes int64
		for _, candidate := range batch {
			batchBytes += candidate.Size
		}
		batchMB := int(batchBytes / (1024 * 1024))
		if usage.MB()+batchMB > sizeLimit {
			msg := fmt.Sprintf("daily size limit reached (%d/%d MB)", usage.MB(), sizeLimit)
			if upgrade {
				return rejectUpgrade(ReasonQuota, msg)
			}
			return reject(ReasonQuota, msg)
		}
	}
	return nil
}

// checkCandidates validates every file in the batch before a single byte is
// written; one failing file rejects the whole batch.
func (g *Gate) checkCandidates(lib library.Library, premium bool, batch []Candidate) *Rejection {
	sizeCap := g.cfg.FreeMaxFileSizeMB
	upgrade := true
	if premium {
		sizeCap = g.cfg.MaxFileSizeMB
		upgrade = false
	}
	allowed := g.rules.Allowed(lib.Type)

	for _, candidate := range batch {
		if strings.TrimSpace(candidate.FileName) == "" {
			return reject(ReasonValidation, "file name is required")
		}
		if sizeCap > 0 {
			if candidate.Size > int64(sizeCap)*1024*1024 {
				msg := fmt.Sprintf("file %s exceeds the %d MB size limit", candidate.FileName, sizeCap)
				if upgrade {
					return rejectUpgrade(ReasonSizeExceeded, msg)
				}
				return reject(ReasonSizeExceeded, msg)
			}
		}
		if !policy.Allowed(allowed, candidate.FileName) {
			return reject(ReasonTypeRejected, fmt.Sprintf("file type not allowed for %s", candidate.FileName))
		}
	}
	return nil
}

// signalRefresh asks the host to rescan the library in the background. The
// upload already succeeded; a refresh failure is logged and dropped.
func (g *Gate) signalRefresh(libraryID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := g.catalog.RefreshLibrary(ctx, libraryID); err != nil {
			g.logger.Warn("library refresh signal failed", "library_id", libraryID, "error", err)
			g.metrics.ObserveLibraryRefresh("error")
			return
		}
		g.metrics.ObserveLibraryRefresh("ok")
	}()
}

func (g *Gate) observeEntitlement(ent entitlement.Entitlement) {
	switch {
	case ent.Premium:
		g.metrics.ObservePremiumCheck("premium")
	case ent.Reason != "":
		g.metrics.ObservePremiumCheck("denied")
	default:
		g.metrics.ObservePremiumCheck("free")
	}
}

// folderRejection maps browser errors onto the rejection taxonomy.
func folderRejection(err error) *Rejection {
	switch {
	case errors.Is(err, library.ErrFolderMissing):
		return reject(ReasonNotFound, "target folder does not exist")
	case errors.Is(err, library.ErrFolderExists):
		return reject(ReasonExists, "folder already exists")
	case errors.Is(err, library.ErrPathOutsideLibrary):
		return reject(ReasonValidation, "invalid folder path")
	case errors.Is(err, library.ErrDepthExceeded):
		return reject(ReasonValidation, "folder depth limit exceeded")
	case errors.Is(err, library.ErrInvalidName):
		return reject(ReasonValidation, "invalid folder name")
	default:
		return reject(ReasonInternal, "internal server error")
	}
}
