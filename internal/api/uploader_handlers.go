package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"mediadrop/internal/admission"
	"mediadrop/internal/library"
	"mediadrop/internal/uploader"
)

type verifyResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Username       string `json:"username"`
	UserID         string `json:"userId"`
	UploadsEnabled bool   `json:"uploadsEnabled"`
	MaxFileSizeMB  int    `json:"maxFileSizeMB"`
}

// Verify reports whether the presented app credentials and session token are
// valid, along with the basic upload settings the client needs up front.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	settings := h.Gate.Settings()
	writeJSON(w, http.StatusOK, verifyResponse{
		Success:        true,
		Message:        "session valid",
		Username:       principal.UserName,
		UserID:         principal.UserID,
		UploadsEnabled: settings.EnableUploads,
		MaxFileSizeMB:  settings.MaxFileSizeMB,
	})
}

type librariesResponse struct {
	Success   bool              `json:"success"`
	Libraries []library.Library `json:"libraries"`
}

// Libraries lists the host libraries available as upload targets.
func (h *Handler) Libraries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	libs, err := h.Gate.Libraries(r.Context())
	if err != nil {
		writeRejection(w, err)
		return
	}
	if libs == nil {
		libs = []library.Library{}
	}
	writeJSON(w, http.StatusOK, librariesResponse{Success: true, Libraries: libs})
}

type foldersResponse struct {
	Success bool             `json:"success"`
	Folders []library.Folder `json:"folders"`
}

// Folders lists the directories one level beneath the requested path.
func (h *Handler) Folders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	if _, ok := h.authenticate(w, r); !ok {
		return
	}
	folders, err := h.Gate.Folders(r.Context(), r.URL.Query().Get("libraryId"), r.URL.Query().Get("path"))
	if err != nil {
		writeRejection(w, err)
		return
	}
	if folders == nil {
		folders = []library.Folder{}
	}
	writeJSON(w, http.StatusOK, foldersResponse{Success: true, Folders: folders})
}

type createFolderRequest struct {
	LibraryID  string `json:"libraryId"`
	FolderName string `json:"folderName"`
	ParentPath string `json:"parentPath"`
}

type baseResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CreateFolder creates a new folder beneath a library root.
func (h *Handler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	var req createFolderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	created, err := h.Gate.CreateFolder(r.Context(), req.LibraryID, req.ParentPath, req.FolderName)
	if err != nil {
		writeRejection(w, err)
		return
	}
	h.Logger.Info("folder created", "path", created, "user_id", principal.UserID)
	writeJSON(w, http.StatusOK, baseResponse{Success: true, Message: "folder created successfully"})
}

type uploadResponse struct {
	Success         bool               `json:"success"`
	Message         string             `json:"message"`
	UploadedFiles   []uploader.Outcome `json:"uploadedFiles"`
	IsPremiumUpload bool               `json:"isPremiumUpload"`
}

// Upload admits a multipart batch through the gate and reports per-file
// outcomes. Every validation step, including app auth and session
// resolution, runs inside the gate.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if err := r.ParseMultipartForm(h.multipartMemory()); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	query := r.URL.Query()
	req := admission.Request{
		App:            appCredentials(r),
		SessionToken:   bearerToken(r),
		LibraryID:      query.Get("libraryId"),
		FolderID:       query.Get("folderId"),
		ClaimedPremium: parseBool(query.Get("isPremium")),
		PremiumToken:   query.Get("premiumToken"),
	}

	headers := r.MultipartForm.File["files"]
	candidates := make([]admission.Candidate, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			writeErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("unreadable file part %s", header.Filename))
			return
		}
		defer file.Close()
		candidates = append(candidates, admission.Candidate{
			FileName: header.Filename,
			Size:     header.Size,
			Content:  file,
		})
	}
	req.Candidates = candidates

	result, err := h.Gate.Admit(r.Context(), req)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Success:         true,
		Message:         fmt.Sprintf("successfully uploaded %d file(s)", len(result.Outcomes)),
		UploadedFiles:   result.Outcomes,
		IsPremiumUpload: result.Premium,
	})
}

type userLimitsResponse struct {
	Success             bool `json:"success"`
	IsPremium           bool `json:"isPremium"`
	DailyUploadLimit    int  `json:"dailyUploadLimit"`
	DailySizeLimitMB    int  `json:"dailySizeLimitMB"`
	MaxFileSizeMB       int  `json:"maxFileSizeMB"`
	FilesUploadedToday  int  `json:"filesUploadedToday"`
	SizeUploadedTodayMB int  `json:"sizeUploadedTodayMB"`
	RemainingFiles      int  `json:"remainingFiles"`
	RemainingSizeMB     int  `json:"remainingSizeMB"`
}

// UserLimits reports the caller's quota position for the resolved tier.
// Premium remaining values use -1 as the unlimited sentinel.
func (h *Handler) UserLimits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	principal, ok := h.authenticate(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	report := h.Gate.LimitsFor(r.Context(), principal.UserID, parseBool(query.Get("isPremium")), query.Get("premiumToken"))
	writeJSON(w, http.StatusOK, userLimitsResponse{
		Success:             true,
		IsPremium:           report.Premium,
		DailyUploadLimit:    report.DailyUploadLimit,
		DailySizeLimitMB:    report.DailySizeLimitMB,
		MaxFileSizeMB:       report.MaxFileSizeMB,
		FilesUploadedToday:  report.FilesUploadedToday,
		SizeUploadedTodayMB: report.SizeUploadedTodayMB,
		RemainingFiles:      report.RemainingFiles,
		RemainingSizeMB:     report.RemainingSizeMB,
	})
}

func parseBool(raw string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return value
}
