package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/cpmoracle/internal/domain"
)

// archiveRoot is the only prefix the listing endpoint exposes.
const archiveRoot = "archive/"

// ArchiveHandler lists archived answer files in object storage.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. A nil reader makes the
// endpoint answer 404.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logHandler(logger, "archive")}
}

type archiveObject struct {
	Path         string `json:"path"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
}

// List returns the archived objects under prefix (default archive/answers/).
// GET /api/archive?prefix=archive/answers/2020-
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotFound, "archive storage not configured")
		return
	}
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = archiveRoot + "answers/"
	}
	if !strings.HasPrefix(prefix, archiveRoot) {
		writeError(w, http.StatusBadRequest, "prefix must start with "+archiveRoot)
		return
	}

	infos, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list archive failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to list archive")
		return
	}

	out := make([]archiveObject, 0, len(infos))
	for _, info := range infos {
		out = append(out, archiveObject{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "objects": out})
}
